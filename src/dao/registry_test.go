package dao

import (
	"net"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/djaigoo/holesocks/src/socks4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDao struct {
	mu      sync.Mutex
	members map[string]struct{}
	dels    int
}

func newMemDao() *memDao {
	return &memDao{members: map[string]struct{}{}}
}

func (m *memDao) AddSession(member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member] = struct{}{}
	return nil
}

func (m *memDao) DelSession(member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dels++
	delete(m.members, member)
	return nil
}

func (m *memDao) GetSessions() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]string, 0, len(m.members))
	for k := range m.members {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret, nil
}

func (m *memDao) GetSessionNum() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.members)), nil
}

func newSession(t *testing.T, r *Registry) *socks4.Session {
	t.Helper()
	cli, srv := net.Pipe()
	t.Cleanup(func() {
		_ = cli.Close()
	})
	s := socks4.NewSession(r.NextID(), srv, r, nil)
	r.Add(s)
	return s
}

func TestRegistry(t *testing.T) {
	mem := newMemDao()
	r := NewRegistry(mem)

	s1 := newSession(t, r)
	s2 := newSession(t, r)
	assert.Equal(t, uint64(1), s1.ID())
	assert.Equal(t, uint64(2), s2.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(2)
	require.True(t, ok)
	assert.Same(t, s2, got)

	list := r.List()
	require.Len(t, list, 2)
	assert.True(t, strings.HasPrefix(list[0], "1 "))
	assert.True(t, strings.HasPrefix(list[1], "2 "))

	members, err := mem.GetSessions()
	require.NoError(t, err)
	assert.Len(t, members, 2)

	r.Remove(1)
	r.Remove(1)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, mem.dels)
	_, ok = r.Get(1)
	assert.False(t, ok)

	n, err := mem.GetSessionNum()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRegistryStopAll(t *testing.T) {
	mem := newMemDao()
	r := NewRegistry(mem)
	var sessions []*socks4.Session
	for i := 0; i < 5; i++ {
		sessions = append(sessions, newSession(t, r))
	}
	sessions[0].Start()

	r.StopAll()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 5, mem.dels)
	for _, s := range sessions {
		<-s.Done()
		assert.Equal(t, socks4.StateStopped, s.State())
	}
	n, _ := mem.GetSessionNum()
	assert.Zero(t, n)
}

func TestRegistryDefaultMirror(t *testing.T) {
	r := NewRegistry(nil)
	s := newSession(t, r)
	require.NoError(t, s.Stop())
	assert.Equal(t, 0, r.Len())
}

func TestGenSessionsKey(t *testing.T) {
	assert.Equal(t, "holesocks|sessions", genSessionsKey(""))
	assert.Equal(t, "edge|sessions", genSessionsKey("edge"))
}
