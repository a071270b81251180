package connect

import (
	"context"
	"io"

	"github.com/djaigoo/logkit"
	"go.uber.org/atomic"
)

const (
	Upstream   = "upstream"
	Downstream = "downstream"

	DefaultBufferSize = 50 * 1024
)

// Pump forwards one direction of a relay with its own buffer. It keeps at most one read and one
// write in flight, so a slow consumer throttles the producer.
type Pump struct {
	name    string
	buf     []byte
	busy    chan struct{}
	written *atomic.Int64
}

// NewPump returns a pump with a size byte buffer, DefaultBufferSize when size <= 0.
func NewPump(name string, size int) *Pump {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Pump{
		name:    name,
		buf:     make([]byte, size),
		busy:    make(chan struct{}, 1),
		written: atomic.NewInt64(0),
	}
}

func (p *Pump) Name() string {
	return p.name
}

// Buffer exposes the pump buffer, usable as read space before Copy starts.
func (p *Pump) Buffer() []byte {
	return p.buf
}

// Written returns the bytes forwarded so far.
func (p *Pump) Written() int64 {
	return p.written.Load()
}

func (p *Pump) write(dst io.Writer, b []byte) (int, error) {
	p.busy <- struct{}{}
	defer func() {
		<-p.busy
	}()
	n, err := dst.Write(b)
	if n > 0 {
		p.written.Add(int64(n))
	}
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Copy reads src into the pump buffer and writes it to dst until end of stream or error.
// End of stream is not an error.
func (p *Pump) Copy(dst io.Writer, src io.Reader) (written int64, err error) {
	for {
		nr, er := src.Read(p.buf)
		if nr > 0 {
			nw, ew := p.write(dst, p.buf[:nr])
			written += int64(nw)
			if ew != nil {
				err = ew
				break
			}
		}
		if er != nil {
			if er != io.EOF {
				err = er
			}
			break
		}
	}
	return
}

// Settle waits until the write in flight, if any, has returned or ctx is done.
func (p *Pump) Settle(ctx context.Context) {
	select {
	case p.busy <- struct{}{}:
		<-p.busy
	case <-ctx.Done():
	}
}

// Relay is a duplex byte pump between a client channel and a server socket.
type Relay struct {
	Up   *Pump
	Down *Pump
}

func NewRelay(size int) *Relay {
	return &Relay{
		Up:   NewPump(Upstream, size),
		Down: NewPump(Downstream, size),
	}
}

type result struct {
	pump *Pump
	err  error
}

// Run relays client<->server. pending is sent upstream before anything read from client. When the
// first direction ends, Run lets the other direction's in-flight write finish, calls stop with that
// direction's error (nil on end of stream), which must close both ends, and returns the same error
// once both directions have returned.
func (r *Relay) Run(ctx context.Context, client, server io.ReadWriter, pending []byte, stop func(error)) error {
	results := make(chan result, 2)
	go func() {
		var err error
		if len(pending) > 0 {
			_, err = r.Up.write(server, pending)
		}
		if err == nil {
			_, err = r.Up.Copy(server, client)
		}
		results <- result{pump: r.Up, err: err}
	}()
	go func() {
		_, err := r.Down.Copy(client, server)
		results <- result{pump: r.Down, err: err}
	}()

	first := <-results
	other := r.Down
	if first.pump == r.Down {
		other = r.Up
	}
	logkit.Debugf("[Relay] %s over %d byte, settle %s", first.pump.Name(), first.pump.Written(), other.Name())
	other.Settle(ctx)
	stop(first.err)
	<-results
	return first.err
}

// Pipe relays between two connections and closes both when done.
func Pipe(ctx context.Context, p1, p2 io.ReadWriteCloser, size int) (n1, n2 int64, err error) {
	r := NewRelay(size)
	err = r.Run(ctx, p1, p2, nil, func(error) {
		_ = p1.Close()
		_ = p2.Close()
	})
	return r.Up.Written(), r.Down.Written(), err
}
