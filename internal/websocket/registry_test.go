package websocket

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	id     string
	open   atomic.Bool
	frames [][]byte
	mu     sync.Mutex
}

func newStubConn(id string) *stubConn {
	c := &stubConn{id: id}
	c.open.Store(true)
	return c
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) Send(frame []byte) bool {
	if !c.open.Load() {
		return false
	}
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return true
}

func (c *stubConn) IsOpen() bool { return c.open.Load() }
func (c *stubConn) Close()       { c.open.Store(false) }

func connIDs(conns []Connection) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	x, y := newStubConn("x"), newStubConn("y")

	assert.Nil(t, r.Register(x, "alice", "r1"))
	assert.Nil(t, r.Register(y, "bob", "r1"))

	b, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "alice", b.UserID)
	assert.Equal(t, "r1", b.RoomID)

	b, ok = r.LookupUser("bob")
	require.True(t, ok)
	assert.Equal(t, "y", b.Conn.ID())

	assert.Equal(t, []string{"alice", "bob"}, r.UsersInRoom("r1"))
	assert.ElementsMatch(t, []string{"x", "y"}, connIDs(r.ConnectionsInRoom("r1")))
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"r1"}, r.Rooms())
}

func TestRegistry_SingleSessionPerUser(t *testing.T) {
	r := NewRegistry()
	x, y := newStubConn("x"), newStubConn("y")

	r.Register(x, "alice", "r1")
	evicted := r.Register(y, "alice", "r2")

	require.NotNil(t, evicted)
	assert.Equal(t, "x", evicted.Conn.ID())
	assert.Equal(t, "r1", evicted.RoomID)

	_, ok := r.Lookup("x")
	assert.False(t, ok)
	b, ok := r.LookupUser("alice")
	require.True(t, ok)
	assert.Equal(t, "y", b.Conn.ID())
	assert.Empty(t, r.UsersInRoom("r1"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_ReregisterMovesRoom(t *testing.T) {
	r := NewRegistry()
	x := newStubConn("x")

	r.Register(x, "alice", "r1")
	assert.Nil(t, r.Register(x, "alice", "r2"))

	assert.Zero(t, r.RoomSize("r1"))
	assert.Equal(t, 1, r.RoomSize("r2"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	x, y := newStubConn("x"), newStubConn("y")
	r.Register(x, "alice", "r1")
	r.Register(y, "bob", "r1")

	b, ok := r.Unregister("x")
	require.True(t, ok)
	assert.Equal(t, "alice", b.UserID)

	_, ok = r.Unregister("x")
	assert.False(t, ok, "second unregister is a no-op")

	b, ok = r.UnregisterByUser("bob")
	require.True(t, ok)
	assert.Equal(t, "y", b.Conn.ID())

	_, ok = r.UnregisterByUser("bob")
	assert.False(t, ok)
	assert.Zero(t, r.Count())
	assert.Empty(t, r.Rooms())
}

func TestRegistry_ConnectionsInRoomSkipsClosed(t *testing.T) {
	r := NewRegistry()
	x, y := newStubConn("x"), newStubConn("y")
	r.Register(x, "alice", "r1")
	r.Register(y, "bob", "r1")

	y.Close()

	assert.Equal(t, []string{"x"}, connIDs(r.ConnectionsInRoom("r1")))
	assert.Equal(t, 2, r.RoomSize("r1"))
}

func TestRegistry_SweepDeadConnections(t *testing.T) {
	r := NewRegistry()
	x, y, z := newStubConn("x"), newStubConn("y"), newStubConn("z")
	r.Register(x, "alice", "r1")
	r.Register(y, "bob", "r1")
	r.Register(z, "carol", "r2")

	y.Close()
	z.Close()

	removed := r.SweepDeadConnections()
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []string{"r1"}, r.Rooms())

	assert.Empty(t, r.SweepDeadConnections())
}

func TestRegistry_ConcurrentRegisterKeepsIndicesConsistent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newStubConn(fmt.Sprintf("c%d", i))
			// Ten users racing over a hundred connections.
			r.Register(conn, fmt.Sprintf("u%d", i%10), "r1")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Count())
	assert.Len(t, r.UsersInRoom("r1"), 10)
	for i := 0; i < 10; i++ {
		b, ok := r.LookupUser(fmt.Sprintf("u%d", i))
		require.True(t, ok)
		back, ok := r.Lookup(b.Conn.ID())
		require.True(t, ok)
		assert.Equal(t, b.UserID, back.UserID)
	}
}
