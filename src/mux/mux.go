// Package mux carries many virtual channels over one tunnel connection with smux.
package mux

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/djaigoo/logkit"
	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

var ErrClosed = errors.New("mux: closed")

// Config returns the smux config, keepAlive 0 keeps the smux default.
func Config(keepAlive time.Duration) *smux.Config {
	c := smux.DefaultConfig()
	if keepAlive > 0 {
		c.KeepAliveInterval = keepAlive
		c.KeepAliveTimeout = 3 * keepAlive
	}
	return c
}

// Handler serves one virtual channel and owns it.
type Handler func(stream *smux.Stream)

// Server accepts tunnel connections and hands every stream of every connection to Handler.
type Server struct {
	Config  *smux.Config
	Handler Handler

	mu       sync.Mutex
	sessions map[*smux.Session]struct{}
	closed   bool
}

func NewServer(config *smux.Config, handler Handler) *Server {
	if config == nil {
		config = smux.DefaultConfig()
	}
	return &Server{
		Config:   config,
		Handler:  handler,
		sessions: make(map[*smux.Session]struct{}),
	}
}

// Serve accepts tunnel connections from l until l fails.
func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return errors.Wrap(err, "accept tunnel")
		}
		go func() {
			if err := s.ServeConn(conn); err != nil {
				logkit.Errorf("[Serve] tunnel %s error %s", conn.RemoteAddr().String(), err.Error())
			}
		}()
	}
}

func (s *Server) track(sess *smux.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *smux.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// ServeConn runs the mux server side on one tunnel connection until it closes.
func (s *Server) ServeConn(conn net.Conn) error {
	sess, err := smux.Server(conn, s.Config)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "smux server")
	}
	if !s.track(sess) {
		_ = sess.Close()
		return ErrClosed
	}
	defer func() {
		s.untrack(sess)
		_ = sess.Close()
	}()
	logkit.Infof("[ServeConn] tunnel open %s --> %s", conn.RemoteAddr().String(), conn.LocalAddr().String())

	for {
		stream, err := sess.AcceptStream()
		if err != nil {
			if err == io.EOF || err == io.ErrClosedPipe || sess.IsClosed() {
				logkit.Infof("[ServeConn] tunnel closed %s, %d streams left", conn.RemoteAddr().String(), sess.NumStreams())
				return nil
			}
			return errors.Wrap(err, "accept stream")
		}
		logkit.Debugf("[ServeConn] stream %d from %s", stream.ID(), conn.RemoteAddr().String())
		go s.Handler(stream)
	}
}

// Close closes every tunnel connection being served. Serve's listener is closed by its owner.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	list := make([]*smux.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.Unlock()

	var firstErr error
	for _, sess := range list {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Client opens streams over one tunnel connection, dialing a new one when the previous closed.
type Client struct {
	Dial   func() (net.Conn, error)
	Config *smux.Config

	mu      sync.Mutex
	session *smux.Session
	closed  bool
}

func NewClient(dial func() (net.Conn, error), config *smux.Config) *Client {
	if config == nil {
		config = smux.DefaultConfig()
	}
	return &Client{Dial: dial, Config: config}
}

// Open returns a new virtual channel.
func (c *Client) Open() (*smux.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.session == nil || c.session.IsClosed() {
		conn, err := c.Dial()
		if err != nil {
			return nil, errors.Wrap(err, "dial tunnel")
		}
		sess, err := smux.Client(conn, c.Config)
		if err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "smux client")
		}
		logkit.Infof("[Open] tunnel open %s --> %s", conn.LocalAddr().String(), conn.RemoteAddr().String())
		c.session = sess
	}
	stream, err := c.session.OpenStream()
	if err != nil {
		// a failed OpenStream leaves the session open
		_ = c.session.Close()
		c.session = nil
		return nil, errors.Wrap(err, "open stream")
	}
	return stream, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
