package socks4

import (
	"context"
	"io"
	"net"
	"time"
)

// Channel is the client side of a session: one virtual channel of the tunnel.
type Channel interface {
	io.ReadWriteCloser
}

// Resolver turns a host into candidate addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Dialer opens the outbound connection for CONNECT. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Binder opens the listening socket for BIND. *net.ListenConfig satisfies it.
type Binder interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}

// Registry keeps track of live sessions. A session only keeps the registry and its own id, removal
// asks the registry to forget that id.
type Registry interface {
	Add(s *Session)
	Remove(id uint64)
}

type Options struct {
	Resolver Resolver
	Dialer   Dialer
	Binder   Binder

	// BufferSize is the capacity of each relay direction's buffer.
	BufferSize int
	// BindIP is the address BIND listeners are opened on, nil for all interfaces.
	BindIP net.IP
	// BindAcceptTimeout bounds the wait for the BIND peer, 0 waits until the session stops.
	BindAcceptTimeout time.Duration
}

func (o *Options) init() *Options {
	opt := Options{}
	if o != nil {
		opt = *o
	}
	if opt.Resolver == nil {
		opt.Resolver = net.DefaultResolver
	}
	if opt.Dialer == nil {
		opt.Dialer = &net.Dialer{}
	}
	if opt.Binder == nil {
		opt.Binder = &net.ListenConfig{}
	}
	if opt.BufferSize <= 0 {
		opt.BufferSize = DefaultBufferSize
	}
	return &opt
}

type deadliner interface {
	SetDeadline(t time.Time) error
}
