package socks4

import (
	"fmt"

	"github.com/djaigoo/holesocks/src/connect"
	"github.com/pkg/errors"
)

// version
const (
	VER      = 0x04
	ReplyVER = 0x00
)

// Command
const (
	Connect = 0x01
	Bind    = 0x02
)

// reply status
const (
	Granted             = 0x5A // request granted
	Rejected            = 0x5B // request rejected or failed
	FailedNoIdent       = 0x5C // rejected, cannot connect to identd on the client
	FailedIdentMismatch = 0x5D // rejected, client program and identd report different user-ids
)

const (
	HeaderLen = 8 // ver + cmd + 2port + 4ip
	ReplyLen  = 8 // ver + status + 2port + 4ip

	// MaxFieldLen bounds user_id and domain_name, terminator excluded.
	MaxFieldLen = 1024

	// DefaultBufferSize is the capacity of each relay direction's buffer.
	DefaultBufferSize = connect.DefaultBufferSize
)

type opErr string

func (oe opErr) Error() string {
	return string(oe)
}

const (
	ErrVersion     = opErr("socks4: invalid version")
	ErrFieldLength = opErr("socks4: field too long")
	ErrCommand     = opErr("socks4: command not supported")
	ErrNoAddress   = opErr("socks4: no address found")
	ErrStopped     = opErr("socks4: session stopped")
)

// Kind classifies why a session stopped.
type Kind uint8

const (
	KindDecode = Kind(iota + 1)
	KindCommand
	KindResolve
	KindConnect
	KindBind
	KindRelay
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindCommand:
		return "command"
	case KindResolve:
		return "resolve"
	case KindConnect:
		return "connect"
	case KindBind:
		return "bind"
	case KindRelay:
		return "relay"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Error is the stop cause of a session.
type Error struct {
	Kind Kind
	Err  error
}

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Cause() error {
	return errors.Cause(e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, 0 if none.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return 0
}

// IsFailure reports whether err is a real failure rather than a normal teardown.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindCancelled
}
