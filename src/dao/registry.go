package dao

import (
	"sort"
	"strconv"
	"sync"

	"github.com/djaigoo/holesocks/src/socks4"
	"github.com/djaigoo/logkit"
	"go.uber.org/atomic"
)

type entry struct {
	session *socks4.Session
	member  string
}

// Registry tracks live sessions for accounting, keyed by session id.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint64]*entry
	seq      *atomic.Uint64
	mirror   IRedisDao
}

var _ socks4.Registry = (*Registry)(nil)

// NewRegistry returns a registry mirrored to mirror, RedisDao when nil.
func NewRegistry(mirror IRedisDao) *Registry {
	if mirror == nil {
		mirror = RedisDao
	}
	return &Registry{
		sessions: make(map[uint64]*entry),
		seq:      atomic.NewUint64(0),
		mirror:   mirror,
	}
}

// NextID returns a fresh session id.
func (r *Registry) NextID() uint64 {
	return r.seq.Inc()
}

func (r *Registry) Add(s *socks4.Session) {
	e := &entry{session: s, member: strconv.FormatUint(s.ID(), 10) + " " + s.ClientAddr()}
	r.mu.Lock()
	r.sessions[s.ID()] = e
	r.mu.Unlock()
	if err := r.mirror.AddSession(e.member); err != nil {
		logkit.Errorf("[Registry] add session %s error %s", e.member, err.Error())
	}
}

func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.mirror.DelSession(e.member); err != nil {
		logkit.Errorf("[Registry] del session %s error %s", e.member, err.Error())
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Get returns the session registered under id.
func (r *Registry) Get(id uint64) (*socks4.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (r *Registry) snapshot() []*socks4.Session {
	r.mu.Lock()
	list := make([]*socks4.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		list = append(list, e.session)
	}
	r.mu.Unlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID() < list[j].ID()
	})
	return list
}

// List describes the live sessions ordered by id.
func (r *Registry) List() []string {
	list := r.snapshot()
	ret := make([]string, 0, len(list))
	for _, s := range list {
		ret = append(ret, s.String())
	}
	return ret
}

// StopAll stops every live session. Sessions remove themselves while stopping.
func (r *Registry) StopAll() {
	for _, s := range r.snapshot() {
		if err := s.Stop(); err != nil {
			logkit.Warnf("[Registry] stop session %d error %s", s.ID(), err.Error())
		}
	}
}
