// ABOUTME: Routes node-originated events to the subscriber rooms that watch them
// ABOUTME: Applies authoritative server status before republishing

package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/ws"
)

// Server-originated event classes scoped to one server's room.
const (
	EventServerStatus   = "server:status"
	EventServerConsole  = "server:console"
	EventServerStats    = "server:stats"
	EventInstallProg    = "server:install-progress"
	EventNodeStats      = "node:stats"
	EventGenericError   = "error"
)

// Publisher is the slice of the hub the fanout emits through.
type Publisher interface {
	Publish(room hub.Room, ev ws.Event) int
}

// StatusStore records authoritative server status as nodes report it.
type StatusStore interface {
	SetServerStatus(ctx context.Context, id, status string) error
}

// scopedBody is the minimal shape shared by server-scoped event bodies.
type scopedBody struct {
	ServerID string `json:"serverId"`
	Status   string `json:"status,omitempty"`
}

// Fanout republishes node events to the rooms whose subscribers watch
// them. Correlation is not its job: reply events reaching the fanout have
// already been offered to the correlator, and the broadcast here is only
// a best-effort signal for live observers.
type Fanout struct {
	pub     Publisher
	servers StatusStore
	logger  *slog.Logger
}

// New creates a fanout.
func New(pub Publisher, servers StatusStore, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		pub:     pub,
		servers: servers,
		logger:  logger.With("component", "fanout"),
	}
}

// Relay routes one event from nodeID to its subscriber room. Publishing
// to a room with no members is a no-op, never an error.
func (f *Fanout) Relay(ctx context.Context, nodeID string, ev ws.Event) {
	switch ev.Event {
	case EventServerStatus:
		f.relayServerStatus(ctx, ev)
	case EventServerConsole, EventServerStats, EventInstallProg:
		f.relayServerScoped(ev)
	case EventNodeStats:
		f.pub.Publish(hub.NodeStatsRoom(nodeID), ev)
	default:
		// File-operation replies and generic errors carry only a request
		// id, not a room scope; broadcast so any observer can see them.
		// The correlator already delivered them to the actual waiter.
		if _, _, isReply := ws.SplitReply(ev.Event); isReply || ev.Event == EventGenericError {
			f.pub.Publish(hub.Clients(), ev)
			return
		}
		f.logger.Debug("unroutable node event dropped", "event", ev.Event, "node_id", nodeID)
	}
}

// relayServerStatus persists the reported status, then republishes. The
// node's report always wins over any optimistic transitional value.
func (f *Fanout) relayServerStatus(ctx context.Context, ev ws.Event) {
	var body scopedBody
	if err := json.Unmarshal(ev.Body, &body); err != nil || body.ServerID == "" {
		f.logger.Warn("status event without server id", "event", ev.Event)
		return
	}
	if body.Status != "" {
		if err := f.servers.SetServerStatus(ctx, body.ServerID, body.Status); err != nil {
			f.logger.Warn("recording server status failed",
				"server_id", body.ServerID, "status", body.Status, "error", err)
		}
	}
	f.pub.Publish(hub.ServerRoom(body.ServerID), ev)
}

func (f *Fanout) relayServerScoped(ev ws.Event) {
	var body scopedBody
	if err := json.Unmarshal(ev.Body, &body); err != nil || body.ServerID == "" {
		f.logger.Warn("server event without server id", "event", ev.Event)
		return
	}
	f.pub.Publish(hub.ServerRoom(body.ServerID), ev)
}
