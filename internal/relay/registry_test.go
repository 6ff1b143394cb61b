package relay

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/docrelay/internal/metrics"
)

type fakeMember struct {
	id string

	mu   sync.Mutex
	got  [][]byte
	full bool
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Enqueue(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.got = append(m.got, data)
	return true
}

func (m *fakeMember) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.got...)
}

func TestRegistry_JoinAndRoute(t *testing.T) {
	r := NewRegistry(nil)
	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}

	_, err := r.Join(a, "c1")
	require.NoError(t, err)
	_, err = r.Join(b, "c1")
	require.NoError(t, err)

	n, err := r.Route(a, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, [][]byte{[]byte("hello")}, b.received())
	assert.Empty(t, a.received(), "sender must not receive its own envelope")
}

func TestRegistry_ChannelIsolation(t *testing.T) {
	r := NewRegistry(nil)
	a, b, c := &fakeMember{id: "a"}, &fakeMember{id: "b"}, &fakeMember{id: "c"}

	r.Join(a, "c1")
	r.Join(b, "c1")
	r.Join(c, "c2")

	r.Route(a, []byte("x"))
	r.Route(c, []byte("y"))

	assert.Len(t, b.received(), 1)
	assert.Empty(t, c.received())
	assert.Empty(t, a.received())
}

func TestRegistry_RouteNotJoined(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeMember{id: "a"}

	_, err := r.Route(a, []byte("x"))
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestRegistry_RouteNoOtherMembers(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeMember{id: "a"}
	r.Join(a, "t1")

	n, err := r.Route(a, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRegistry_EmptyChannel(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Join(&fakeMember{id: "a"}, "")
	assert.ErrorIs(t, err, ErrEmptyChannel)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RejoinMovesMember(t *testing.T) {
	r := NewRegistry(nil)
	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r.Join(b, "c1")

	r.Join(a, "c1")
	prev, err := r.Join(a, "c2")
	require.NoError(t, err)
	assert.Equal(t, "c1", prev)

	ch, ok := r.ChannelOf(a)
	require.True(t, ok)
	assert.Equal(t, "c2", ch)
	assert.Equal(t, 1, r.Members("c1"))
	assert.Equal(t, 1, r.Members("c2"))

	// Joining the same channel again is a no-op.
	prev, err = r.Join(a, "c2")
	require.NoError(t, err)
	assert.Equal(t, "c2", prev)
	assert.Equal(t, 1, r.Members("c2"))
}

func TestRegistry_LeaveCollectsEmptyChannels(t *testing.T) {
	r := NewRegistry(nil)
	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r.Join(a, "c1")
	r.Join(b, "c1")

	ch, ok := r.Leave(a)
	assert.True(t, ok)
	assert.Equal(t, "c1", ch)
	assert.Equal(t, 1, r.Len())

	r.Leave(b)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Channels())

	_, ok = r.Leave(b)
	assert.False(t, ok)
}

func TestRegistry_Channels(t *testing.T) {
	r := NewRegistry(nil)
	r.Join(&fakeMember{id: "1"}, "zeta")
	r.Join(&fakeMember{id: "2"}, "alpha")
	r.Join(&fakeMember{id: "3"}, "alpha")

	assert.Equal(t, []ChannelInfo{
		{Name: "alpha", Members: 2},
		{Name: "zeta", Members: 1},
	}, r.Channels())
}

func TestRegistry_BroadcastSkipsFullMembers(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(metrics.NewRelayMetrics(reg))
	a, b, c := &fakeMember{id: "a"}, &fakeMember{id: "b", full: true}, &fakeMember{id: "c"}
	r.Join(a, "c1")
	r.Join(b, "c1")
	r.Join(c, "c1")

	n := r.Broadcast("c1", a, []byte("x"))
	assert.Equal(t, 1, n)
	assert.Len(t, c.received(), 1)
	assert.Empty(t, b.received())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &fakeMember{id: string(rune('A' + i))}
			r.Join(m, "shared")
			r.Route(m, []byte("x"))
			r.Leave(m)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
