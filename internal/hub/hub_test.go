// ABOUTME: Tests for room membership and best-effort publish
// ABOUTME: Covers join, leave, drop, empty-room publish, and reconnect independence

package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craterhq/crater/internal/ws"
)

// fakeConn records delivered events; Accept controls whether TrySend succeeds.
type fakeConn struct {
	mu     sync.Mutex
	events []ws.Event
	Accept bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{Accept: true}
}

func (c *fakeConn) TrySend(ev ws.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Accept {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) received() []ws.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ws.Event, len(c.events))
	copy(out, c.events)
	return out
}

func makeEvent(name string) ws.Event {
	return ws.Event{Event: name, Body: json.RawMessage(`{}`)}
}

func TestHub_PublishReachesMembers(t *testing.T) {
	h := New(nil)
	a := newFakeConn()
	b := newFakeConn()

	h.Join(a, ServerRoom("s1"))
	h.Join(b, ServerRoom("s1"))

	n := h.Publish(ServerRoom("s1"), makeEvent("server:status"))
	assert.Equal(t, 2, n)
	require.Len(t, a.received(), 1)
	require.Len(t, b.received(), 1)
	assert.Equal(t, "server:status", a.received()[0].Event)
}

func TestHub_PublishEmptyRoomIsNoOp(t *testing.T) {
	h := New(nil)

	n := h.Publish(ServerRoom("nobody-home"), makeEvent("server:status"))
	assert.Equal(t, 0, n)
}

func TestHub_PublishDoesNotCrossRooms(t *testing.T) {
	h := New(nil)
	a := newFakeConn()
	b := newFakeConn()

	h.Join(a, ServerRoom("s1"))
	h.Join(b, ServerRoom("s2"))

	h.Publish(ServerRoom("s1"), makeEvent("server:console"))

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received())
}

func TestHub_SlowMemberDoesNotCountAsDelivered(t *testing.T) {
	h := New(nil)
	a := newFakeConn()
	b := newFakeConn()
	b.Accept = false

	h.Join(a, ServerRoom("s1"))
	h.Join(b, ServerRoom("s1"))

	n := h.Publish(ServerRoom("s1"), makeEvent("server:stats"))
	assert.Equal(t, 1, n)
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := New(nil)
	a := newFakeConn()

	h.Join(a, ServerRoom("s1"))
	h.Leave(a, ServerRoom("s1"))

	n := h.Publish(ServerRoom("s1"), makeEvent("server:status"))
	assert.Equal(t, 0, n)
	assert.Empty(t, a.received())
}

func TestHub_DropRemovesAllMemberships(t *testing.T) {
	h := New(nil)
	a := newFakeConn()

	h.Join(a, ServerRoom("s1"))
	h.Join(a, NodeStatsRoom("n1"))
	h.Join(a, Clients())
	require.Len(t, h.Rooms(a), 3)

	h.Drop(a)

	assert.Empty(t, h.Rooms(a))
	assert.Equal(t, 0, h.Publish(ServerRoom("s1"), makeEvent("server:status")))
	assert.Equal(t, 0, h.Publish(NodeStatsRoom("n1"), makeEvent("node:stats")))
}

func TestHub_ReconnectDoesNotResurrectMemberships(t *testing.T) {
	h := New(nil)
	old := newFakeConn()

	h.Join(old, ServerRoom("s1"))
	h.Drop(old)

	// A fresh connection for the same user starts with no memberships.
	fresh := newFakeConn()
	h.Join(fresh, Clients())

	assert.Equal(t, 0, h.Publish(ServerRoom("s1"), makeEvent("server:status")))
	assert.Empty(t, fresh.received())

	h.Join(fresh, ServerRoom("s1"))
	assert.Equal(t, 1, h.Publish(ServerRoom("s1"), makeEvent("server:status")))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := New(nil)
	a := newFakeConn()

	h.Join(a, ServerRoom("s1"))
	h.Join(a, ServerRoom("s1"))

	n := h.Publish(ServerRoom("s1"), makeEvent("server:status"))
	assert.Equal(t, 1, n)
	assert.Len(t, a.received(), 1)
}

func TestParseSubscribable(t *testing.T) {
	room, err := ParseSubscribable("server:abc")
	require.NoError(t, err)
	assert.Equal(t, ServerRoom("abc"), room)

	room, err = ParseSubscribable("node:n1:stats")
	require.NoError(t, err)
	assert.Equal(t, NodeStatsRoom("n1"), room)

	// Node command rooms are not client-subscribable.
	_, err = ParseSubscribable("node:n1")
	assert.Error(t, err)

	_, err = ParseSubscribable("clients")
	assert.Error(t, err)

	_, err = ParseSubscribable("")
	assert.Error(t, err)
}

func TestHub_MemberCount(t *testing.T) {
	h := New(nil)
	a := newFakeConn()
	b := newFakeConn()

	assert.Equal(t, 0, h.MemberCount(Clients()))
	h.Join(a, Clients())
	h.Join(b, Clients())
	assert.Equal(t, 2, h.MemberCount(Clients()))
}
