package socks4

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Reply is the status sent back to the client after dispatch.
type Reply struct {
	Status uint8
	Port   uint16
	IP     [4]byte
}

// NewReply builds a reply carrying addr. Non-TCP or non-IPv4 addresses are sent as 0.0.0.0:0.
func NewReply(status uint8, addr net.Addr) *Reply {
	r := &Reply{Status: status}
	if ta, ok := addr.(*net.TCPAddr); ok && ta != nil {
		r.Port = uint16(ta.Port)
		if ip4 := ta.IP.To4(); ip4 != nil {
			copy(r.IP[:], ip4)
		}
	}
	return r
}

// Marshal encodes r in wire format.
func (r *Reply) Marshal() []byte {
	ret := make([]byte, ReplyLen)
	ret[0] = ReplyVER
	ret[1] = r.Status
	binary.BigEndian.PutUint16(ret[2:4], r.Port)
	copy(ret[4:8], r.IP[:])
	return ret
}

// Granted reports whether the reply grants the request.
func (r *Reply) Granted() bool {
	return r.Status == Granted
}

// Addr returns the reply address as a TCP address.
func (r *Reply) Addr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(r.IP[0], r.IP[1], r.IP[2], r.IP[3]), Port: int(r.Port)}
}

// ParseReply reads one reply from rd.
func ParseReply(rd io.Reader) (*Reply, error) {
	tmp := make([]byte, ReplyLen)
	_, err := io.ReadFull(rd, tmp)
	if err != nil {
		return nil, errors.Wrap(err, "read reply")
	}
	if tmp[0] != ReplyVER {
		return nil, errors.Wrapf(ErrVersion, "reply version %#x", tmp[0])
	}
	r := &Reply{Status: tmp[1], Port: binary.BigEndian.Uint16(tmp[2:4])}
	copy(r.IP[:], tmp[4:8])
	return r, nil
}
