package socks4

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/djaigoo/holesocks/src/connect"
	"github.com/djaigoo/logkit"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

type State int32

const (
	StateInit = State(iota)
	StateAwaitingRequest
	StateDispatching
	StateResolving
	StateConnecting
	StateBinding
	StateAccepting
	StateRelaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAwaitingRequest:
		return "AwaitingRequest"
	case StateDispatching:
		return "Dispatching"
	case StateResolving:
		return "Resolving"
	case StateConnecting:
		return "Connecting"
	case StateBinding:
		return "Binding"
	case StateAccepting:
		return "Accepting"
	case StateRelaying:
		return "Relaying"
	case StateStopped:
		return "Stopped"
	}
	return ""
}

// Session serves one SOCKS4 client channel from request to teardown.
type Session struct {
	id       uint64
	registry Registry
	opt      *Options

	ctx    context.Context
	cancel context.CancelFunc

	client Channel
	relay  *connect.Relay

	mu       sync.Mutex
	stopped  bool
	err      error
	request  *Request
	server   net.Conn
	listener net.Listener

	state     *atomic.Int32
	ops       sync.WaitGroup
	done      chan struct{}
	createdAt time.Time
}

// NewSession creates a session for client. The caller adds it to the registry before Start.
func NewSession(id uint64, client Channel, registry Registry, opt *Options) *Session {
	s := &Session{
		id:        id,
		registry:  registry,
		opt:       opt.init(),
		client:    client,
		state:     atomic.NewInt32(int32(StateInit)),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.relay = connect.NewRelay(s.opt.BufferSize)
	return s
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the stop cause: nil while running or after a clean end of the relay.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Request returns the decoded request, nil before decoding completes.
func (s *Session) Request() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

// Done is closed once the session is stopped and no operation is outstanding.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Upstream returns the bytes relayed client -> server.
func (s *Session) Upstream() int64 {
	return s.relay.Up.Written()
}

// Downstream returns the bytes relayed server -> client.
func (s *Session) Downstream() int64 {
	return s.relay.Down.Written()
}

// ClientAddr returns the client channel's remote address when the channel exposes one.
func (s *Session) ClientAddr() string {
	if ra, ok := s.client.(interface{ RemoteAddr() net.Addr }); ok && ra.RemoteAddr() != nil {
		return ra.RemoteAddr().String()
	}
	return "-"
}

func (s *Session) String() string {
	src := s.ClientAddr()
	dst := "-"
	if req := s.Request(); req != nil {
		dst = req.GetHost()
	}
	return fmt.Sprintf("%d %s --> %s %s", s.id, src, dst, s.State())
}

// Start issues the request read. It does nothing once the session has been started or stopped.
func (s *Session) Start() {
	s.mu.Lock()
	if s.stopped || s.State() != StateInit {
		s.mu.Unlock()
		return
	}
	s.state.Store(int32(StateAwaitingRequest))
	s.ops.Add(1)
	s.mu.Unlock()
	go s.run()
}

// Stop cancels every pending operation, closes both sides and removes the session from the registry.
// Only the first call has an effect.
func (s *Session) Stop() error {
	return s.stop(&Error{Kind: KindCancelled, Err: ErrStopped})
}

func (s *Session) stop(cause error) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.err = cause
	server, listener := s.server, s.listener
	s.listener = nil
	s.state.Store(int32(StateStopped))
	s.mu.Unlock()

	s.cancel()
	var firstErr error
	if err := s.client.Close(); err != nil {
		firstErr = errors.Wrap(err, "close client")
	}
	if listener != nil {
		if err := listener.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close listener")
		}
	}
	if server != nil {
		if err := server.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close server")
		}
	}

	if IsFailure(cause) {
		logkit.Errorf("[Session] %d stop with error %s", s.id, cause.Error())
	} else {
		logkit.Infof("[Session] %d stop, upstream %d byte, downstream %d byte", s.id, s.Upstream(), s.Downstream())
	}
	if s.registry != nil {
		s.registry.Remove(s.id)
	}
	go func() {
		s.ops.Wait()
		close(s.done)
	}()
	return firstErr
}

// setState moves to st unless the session is stopped.
func (s *Session) setState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.state.Store(int32(st))
	return true
}

// attach hands a freshly opened socket to the session. It reports false when the session is already
// stopped, the caller then closes the socket itself.
func (s *Session) attach(conn net.Conn, listener net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if conn != nil {
		s.server = conn
	}
	if listener != nil {
		s.listener = listener
	}
	return true
}

func (s *Session) closeListener() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

func (s *Session) serverConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

func (s *Session) cancelled(format string, args ...interface{}) error {
	return newError(KindCancelled, ErrStopped, format, args...)
}

func (s *Session) run() {
	defer s.ops.Done()

	req, pending, n, err := ReadRequest(s.client, s.relay.Up.Buffer())
	if err != nil {
		s.stop(newError(KindDecode, err, "decode request after %d byte", n))
		return
	}
	s.mu.Lock()
	s.request = req
	s.mu.Unlock()
	logkit.Infof("[Session] %d request cmd %d host %s user %q, %d byte", s.id, req.Command, req.GetHost(), req.UserID, n)
	if !s.setState(StateDispatching) {
		return
	}

	switch req.Command {
	case Connect:
		err = s.doConnect(req)
	case Bind:
		err = s.doBind(req)
	default:
		s.sendReply(NewReply(Rejected, nil))
		err = newError(KindCommand, ErrCommand, "command %#x", req.Command)
	}
	if err != nil {
		s.stop(err)
		return
	}
	s.establishLink(pending)
}

func (s *Session) sendReply(r *Reply) error {
	_, err := s.client.Write(r.Marshal())
	if err != nil {
		logkit.Warnf("[sendReply] %d status %#x error %s", s.id, r.Status, err.Error())
	}
	return err
}

func (s *Session) resolve(req *Request) (net.IP, error) {
	if !req.Is4a() {
		return net.IPv4(req.IP[0], req.IP[1], req.IP[2], req.IP[3]), nil
	}
	ips, err := s.opt.Resolver.LookupIP(s.ctx, "ip4", req.Domain)
	if err != nil {
		return nil, newError(KindResolve, err, "resolve %s", req.Domain)
	}
	if len(ips) == 0 {
		return nil, newError(KindResolve, ErrNoAddress, "resolve %s", req.Domain)
	}
	// only the first candidate is tried, replies carry IPv4 only
	return ips[0], nil
}

func (s *Session) doConnect(req *Request) error {
	if !s.setState(StateResolving) {
		return s.cancelled("resolve %s", req.Host())
	}
	ip, err := s.resolve(req)
	if err != nil {
		s.sendReply(NewReply(Rejected, nil))
		return err
	}

	if !s.setState(StateConnecting) {
		return s.cancelled("connect %s", req.Host())
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(req.Port)))
	conn, err := s.opt.Dialer.DialContext(s.ctx, "tcp", addr)
	if err != nil {
		s.sendReply(NewReply(Rejected, nil))
		return newError(KindConnect, err, "dial %s", addr)
	}
	if !s.attach(conn, nil) {
		_ = conn.Close()
		return s.cancelled("connect %s", addr)
	}
	logkit.Debugf("[doConnect] %d get tcp conn %s --> %s", s.id, conn.LocalAddr().String(), conn.RemoteAddr().String())

	if err = s.sendReply(NewReply(Granted, conn.LocalAddr())); err != nil {
		return newError(KindRelay, err, "send granted reply")
	}
	return nil
}

func (s *Session) doBind(req *Request) error {
	if !s.setState(StateBinding) {
		return s.cancelled("bind")
	}
	host := ""
	if s.opt.BindIP != nil {
		host = s.opt.BindIP.String()
	}
	ln, err := s.opt.Binder.Listen(s.ctx, "tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		s.sendReply(NewReply(Rejected, nil))
		return newError(KindBind, err, "listen on %s", host)
	}
	if !s.attach(nil, ln) {
		_ = ln.Close()
		return s.cancelled("bind")
	}
	logkit.Debugf("[doBind] %d listen %s for %s", s.id, ln.Addr().String(), req.GetHost())
	if err = s.sendReply(NewReply(Granted, ln.Addr())); err != nil {
		return newError(KindRelay, err, "send bind reply")
	}

	if !s.setState(StateAccepting) {
		return s.cancelled("accept")
	}
	if s.opt.BindAcceptTimeout > 0 {
		if d, ok := ln.(deadliner); ok {
			_ = d.SetDeadline(time.Now().Add(s.opt.BindAcceptTimeout))
		}
	}
	conn, err := ln.Accept()
	s.closeListener()
	if err != nil {
		s.sendReply(NewReply(Rejected, nil))
		return newError(KindBind, err, "accept on %s", ln.Addr().String())
	}
	if !s.attach(conn, nil) {
		_ = conn.Close()
		return s.cancelled("accept")
	}
	logkit.Debugf("[doBind] %d accept %s", s.id, conn.RemoteAddr().String())

	if err = s.sendReply(NewReply(Granted, conn.RemoteAddr())); err != nil {
		return newError(KindRelay, err, "send accept reply")
	}
	return nil
}

func (s *Session) establishLink(pending []byte) {
	if !s.setState(StateRelaying) {
		return
	}
	server := s.serverConn()
	s.relay.Run(s.ctx, s.client, server, pending, func(err error) {
		if err != nil {
			s.stop(newError(KindRelay, err, "link %s <-> %s", s.ClientAddr(), server.RemoteAddr().String()))
			return
		}
		s.stop(nil)
	})
}
