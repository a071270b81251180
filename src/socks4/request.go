package socks4

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Request is a decoded SOCKS4 or SOCKS4a request.
type Request struct {
	Version uint8
	Command uint8
	Port    uint16
	IP      [4]byte
	UserID  []byte
	// Domain is only meaningful when Is4a reports true.
	Domain string
}

// Is4a reports whether the address is the 0.0.0.x (x != 0) marker asking the proxy to resolve Domain.
func (r *Request) Is4a() bool {
	return is4aMarker(r.IP)
}

func is4aMarker(ip [4]byte) bool {
	return ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0
}

// Host returns the name to resolve, the domain taking precedence over the raw address.
func (r *Request) Host() string {
	if r.Is4a() {
		return r.Domain
	}
	return net.IP(r.IP[:]).String()
}

// GetHost returns host:port for logging.
func (r *Request) GetHost() string {
	return net.JoinHostPort(r.Host(), strconv.Itoa(int(r.Port)))
}

// Marshal encodes r in wire format.
func (r *Request) Marshal() []byte {
	ret := make([]byte, HeaderLen, HeaderLen+len(r.UserID)+len(r.Domain)+2)
	ret[0] = r.Version
	ret[1] = r.Command
	binary.BigEndian.PutUint16(ret[2:4], r.Port)
	copy(ret[4:8], r.IP[:])
	ret = append(ret, r.UserID...)
	ret = append(ret, 0)
	if r.Is4a() {
		ret = append(ret, r.Domain...)
		ret = append(ret, 0)
	}
	return ret
}

type decodeState uint8

const (
	stateReadHeader = decodeState(iota)
	stateReadUserID
	stateReadDomain
	stateDone
)

func (s decodeState) String() string {
	switch s {
	case stateReadHeader:
		return "ReadHeader"
	case stateReadUserID:
		return "ReadUserId"
	case stateReadDomain:
		return "ReadDomain"
	case stateDone:
		return "Done"
	}
	return ""
}

// Decoder is a resumable request parser. Each Feed advances it as far as the supplied bytes allow and
// never consumes bytes past the end of the request.
type Decoder struct {
	state    decodeState
	header   [HeaderLen]byte
	nheader  int
	field    []byte
	req      Request
	consumed int
}

// Feed consumes bytes from p and returns how many were used. Once Done reports true, Feed consumes
// nothing more.
func (d *Decoder) Feed(p []byte) (n int, err error) {
	for n < len(p) && d.state != stateDone {
		var used int
		switch d.state {
		case stateReadHeader:
			used = copy(d.header[d.nheader:], p[n:])
			d.nheader += used
			if d.nheader == HeaderLen {
				err = d.parseHeader()
			}
		case stateReadUserID, stateReadDomain:
			used, err = d.readField(p[n:])
		}
		n += used
		d.consumed += used
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (d *Decoder) parseHeader() error {
	if d.header[0] != VER {
		return errors.Wrapf(ErrVersion, "got %#x", d.header[0])
	}
	d.req.Version = d.header[0]
	d.req.Command = d.header[1]
	d.req.Port = binary.BigEndian.Uint16(d.header[2:4])
	copy(d.req.IP[:], d.header[4:8])
	d.state = stateReadUserID
	return nil
}

// readField accumulates one NUL-terminated field.
func (d *Decoder) readField(p []byte) (int, error) {
	i := bytes.IndexByte(p, 0)
	if i < 0 {
		if len(d.field)+len(p) > MaxFieldLen {
			return len(p), errors.Wrapf(ErrFieldLength, "%s exceeds %d bytes", d.state, MaxFieldLen)
		}
		d.field = append(d.field, p...)
		return len(p), nil
	}
	if len(d.field)+i > MaxFieldLen {
		return i + 1, errors.Wrapf(ErrFieldLength, "%s exceeds %d bytes", d.state, MaxFieldLen)
	}
	d.field = append(d.field, p[:i]...)
	if d.state == stateReadUserID {
		d.req.UserID = d.field
		d.field = nil
		if d.req.Is4a() {
			d.state = stateReadDomain
		} else {
			d.state = stateDone
		}
	} else {
		d.req.Domain = string(d.field)
		d.field = nil
		d.state = stateDone
	}
	return i + 1, nil
}

// Done reports whether a complete request has been decoded.
func (d *Decoder) Done() bool {
	return d.state == stateDone
}

// Consumed returns the number of request bytes fed so far.
func (d *Decoder) Consumed() int {
	return d.consumed
}

// Request returns the decoded request, nil until Done.
func (d *Decoder) Request() *Request {
	if d.state != stateDone {
		return nil
	}
	req := d.req
	if req.UserID == nil {
		req.UserID = []byte{}
	}
	return &req
}

// ReadRequest drives a Decoder from r using buf as read space. It returns the request, the bytes read
// past its end (to be relayed first) and the number of bytes that belonged to the request. On error
// the count is the partial one.
func ReadRequest(r io.Reader, buf []byte) (req *Request, rest []byte, consumed int, err error) {
	d := &Decoder{}
	for !d.Done() {
		n, er := r.Read(buf)
		if n > 0 {
			used, ef := d.Feed(buf[:n])
			if ef != nil {
				return nil, nil, d.Consumed(), ef
			}
			if d.Done() && used < n {
				rest = append([]byte(nil), buf[used:n]...)
			}
		}
		if d.Done() {
			break
		}
		if er != nil {
			if er == io.EOF {
				er = io.ErrUnexpectedEOF
			}
			return nil, nil, d.Consumed(), errors.Wrapf(er, "read request in state %s", d.state)
		}
	}
	return d.Request(), rest, d.Consumed(), nil
}
