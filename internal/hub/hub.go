// ABOUTME: Room multiplexer layered on the websocket transport.
// ABOUTME: Connections join named rooms; publishes fan out at-most-once, best-effort.

package hub

import (
	"log/slog"
	"sync"

	"github.com/craterhq/crater/internal/ws"
)

// Conn is the slice of a connection the hub needs. Satisfied by *ws.Conn.
type Conn interface {
	TrySend(ev ws.Event) bool
}

// Hub tracks room membership and delivers published events to every member
// at publish time. There is no retroactive delivery and no guarantee for
// connections leaving mid-publish.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[Room]map[Conn]struct{}
	members map[Conn]map[Room]struct{}
	logger  *slog.Logger
}

// New creates an empty hub. Pass nil logger for the default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:   make(map[Room]map[Conn]struct{}),
		members: make(map[Conn]map[Room]struct{}),
		logger:  logger.With("component", "hub"),
	}
}

// Join adds a connection to a room. Joining twice is a no-op.
func (h *Hub) Join(conn Conn, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[Conn]struct{})
	}
	h.rooms[room][conn] = struct{}{}

	if _, ok := h.members[conn]; !ok {
		h.members[conn] = make(map[Room]struct{})
	}
	h.members[conn][room] = struct{}{}
}

// Leave removes a connection from a room. Leaving a room the connection is
// not in is a no-op.
func (h *Hub) Leave(conn Conn, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, room)
}

func (h *Hub) leaveLocked(conn Conn, room Room) {
	if members, ok := h.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.members[conn]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.members, conn)
		}
	}
}

// Drop removes a connection from every room it joined. Called on disconnect
// so stale memberships are never resurrected by a later reconnect.
func (h *Hub) Drop(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.members[conn] {
		h.leaveLocked(conn, room)
	}
	delete(h.members, conn)
}

// Publish delivers an event to every connection currently in the room and
// returns how many accepted it. Publishing to an empty room is a no-op.
func (h *Hub) Publish(room Room, ev ws.Event) int {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok || len(members) == 0 {
		h.mu.RUnlock()
		return 0
	}
	// Copy under the read lock so sends happen without holding it.
	targets := make([]Conn, 0, len(members))
	for conn := range members {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.TrySend(ev) {
			delivered++
		} else {
			h.logger.Debug("dropped event for slow member", "room", string(room), "event", ev.Event)
		}
	}
	return delivered
}

// MemberCount returns how many connections are in a room right now.
func (h *Hub) MemberCount(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the rooms a connection currently belongs to.
func (h *Hub) Rooms(conn Conn) []Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]Room, 0, len(h.members[conn]))
	for room := range h.members[conn] {
		rooms = append(rooms, room)
	}
	return rooms
}
