// ABOUTME: Tests for node event fanout routing
// ABOUTME: Covers status persistence, scoped rooms, reply broadcast, and drops

package fanout

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/ws"
)

type capturePub struct {
	rooms  []hub.Room
	events []ws.Event
}

func (p *capturePub) Publish(room hub.Room, ev ws.Event) int {
	p.rooms = append(p.rooms, room)
	p.events = append(p.events, ev)
	return 1
}

type statusRecorder struct {
	ids      []string
	statuses []string
	err      error
}

func (s *statusRecorder) SetServerStatus(ctx context.Context, id, status string) error {
	s.ids = append(s.ids, id)
	s.statuses = append(s.statuses, status)
	return s.err
}

func event(name, body string) ws.Event {
	return ws.Event{Event: name, Body: json.RawMessage(body)}
}

func TestRelay_StatusPersistsAndPublishes(t *testing.T) {
	pub := &capturePub{}
	rec := &statusRecorder{}
	f := New(pub, rec, nil)

	f.Relay(context.Background(), "n1", event(EventServerStatus, `{"serverId":"s1","status":"running"}`))

	require.Equal(t, []string{"s1"}, rec.ids)
	require.Equal(t, []string{"running"}, rec.statuses)
	require.Len(t, pub.rooms, 1)
	assert.Equal(t, hub.ServerRoom("s1"), pub.rooms[0])
}

func TestRelay_StatusPublishesEvenWhenPersistFails(t *testing.T) {
	pub := &capturePub{}
	rec := &statusRecorder{err: context.DeadlineExceeded}
	f := New(pub, rec, nil)

	f.Relay(context.Background(), "n1", event(EventServerStatus, `{"serverId":"s1","status":"stopped"}`))

	require.Len(t, pub.rooms, 1, "subscribers still get the event")
}

func TestRelay_StatusWithoutServerIDIsDropped(t *testing.T) {
	pub := &capturePub{}
	rec := &statusRecorder{}
	f := New(pub, rec, nil)

	f.Relay(context.Background(), "n1", event(EventServerStatus, `{"status":"running"}`))

	assert.Empty(t, pub.rooms)
	assert.Empty(t, rec.ids)
}

func TestRelay_ConsoleGoesToServerRoom(t *testing.T) {
	pub := &capturePub{}
	f := New(pub, &statusRecorder{}, nil)

	f.Relay(context.Background(), "n1", event(EventServerConsole, `{"serverId":"s2","line":"[INFO] done"}`))

	require.Len(t, pub.rooms, 1)
	assert.Equal(t, hub.ServerRoom("s2"), pub.rooms[0])
	assert.Equal(t, EventServerConsole, pub.events[0].Event)
}

func TestRelay_NodeStatsGoToNodeStatsRoom(t *testing.T) {
	pub := &capturePub{}
	f := New(pub, &statusRecorder{}, nil)

	f.Relay(context.Background(), "n1", event(EventNodeStats, `{"cpu":12.5}`))

	require.Len(t, pub.rooms, 1)
	assert.Equal(t, hub.NodeStatsRoom("n1"), pub.rooms[0])
}

func TestRelay_ReplyEventsBroadcastToClients(t *testing.T) {
	pub := &capturePub{}
	f := New(pub, &statusRecorder{}, nil)

	f.Relay(context.Background(), "n1", event("files:read:response", `{"requestId":"r1","content":"x"}`))
	f.Relay(context.Background(), "n1", event("files:write:error", `{"requestId":"r2","error":"denied"}`))
	f.Relay(context.Background(), "n1", event(EventGenericError, `{"error":"boom"}`))

	require.Len(t, pub.rooms, 3)
	for _, room := range pub.rooms {
		assert.Equal(t, hub.Clients(), room)
	}
}

func TestRelay_UnroutableEventIsDropped(t *testing.T) {
	pub := &capturePub{}
	f := New(pub, &statusRecorder{}, nil)

	f.Relay(context.Background(), "n1", event("heartbeat", `{}`))

	assert.Empty(t, pub.rooms)
}
