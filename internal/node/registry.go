// ABOUTME: Tracks which execution nodes are currently reachable.
// ABOUTME: Maps node identity to live connections and keeps reachability durable.

package node

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/craterhq/crater/internal/store"
	"github.com/craterhq/crater/internal/ws"
)

// ErrNodeNotFound indicates the node record does not exist on the store.
var ErrNodeNotFound = errors.New("node not found")

// Conn is the slice of a connection the registry needs. Satisfied by *ws.Conn.
type Conn interface {
	TrySend(ev ws.Event) bool
	ForceClose(reason string)
}

// Store is the persistence surface the registry writes reachability through.
type Store interface {
	GetNode(ctx context.Context, id string) (*store.Node, error)
	SetNodeReachable(ctx context.Context, id string, reachable bool, heartbeat time.Time) error
}

// Registry owns the mapping from node identity to live connections. The map
// itself is process-local; only reachability flips are written to the store.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]map[Conn]struct{} // nodeID -> connections
	identity  map[Conn]string              // connection -> nodeID
	lastBeat  map[string]time.Time
	store     Store
	logger    *slog.Logger
}

// NewRegistry creates an empty registry backed by the given store.
func NewRegistry(s Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:    make(map[string]map[Conn]struct{}),
		identity: make(map[Conn]string),
		lastBeat: make(map[string]time.Time),
		store:    s,
		logger:   logger.With("component", "node-registry"),
	}
}

// Register binds a connection to a node identity, marks the node reachable on
// the store, and records a heartbeat. Multiple simultaneous connections for
// one node are allowed; the first one flips reachability.
func (r *Registry) Register(ctx context.Context, nodeID string, conn Conn) error {
	now := time.Now()

	r.mu.Lock()
	if _, ok := r.conns[nodeID]; !ok {
		r.conns[nodeID] = make(map[Conn]struct{})
	}
	r.conns[nodeID][conn] = struct{}{}
	r.identity[conn] = nodeID
	r.lastBeat[nodeID] = now
	total := len(r.conns[nodeID])
	r.mu.Unlock()

	if err := r.store.SetNodeReachable(ctx, nodeID, true, now); err != nil {
		r.mu.Lock()
		delete(r.conns[nodeID], conn)
		if len(r.conns[nodeID]) == 0 {
			delete(r.conns, nodeID)
		}
		delete(r.identity, conn)
		r.mu.Unlock()
		if errors.Is(err, store.ErrNotFound) {
			return ErrNodeNotFound
		}
		return err
	}

	r.logger.Info("node connected", "node_id", nodeID, "connections", total)
	return nil
}

// Unregister drops a connection. If it was the node's last connection the
// stored reachability flag is cleared. A node record deleted by an operator
// while the node was live is not an error: the connection is force-closed and
// the store update is a no-op.
func (r *Registry) Unregister(ctx context.Context, conn Conn) {
	r.mu.Lock()
	nodeID, ok := r.identity[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.identity, conn)
	delete(r.conns[nodeID], conn)
	remaining := len(r.conns[nodeID])
	if remaining == 0 {
		delete(r.conns, nodeID)
		delete(r.lastBeat, nodeID)
	}
	r.mu.Unlock()

	if remaining > 0 {
		r.logger.Debug("node connection dropped", "node_id", nodeID, "remaining", remaining)
		return
	}

	if err := r.store.SetNodeReachable(ctx, nodeID, false, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			conn.ForceClose("node record deleted")
			r.logger.Warn("unregistered connection for deleted node", "node_id", nodeID)
			return
		}
		r.logger.Error("clearing node reachability", "node_id", nodeID, "error", err)
		return
	}

	r.logger.Info("node disconnected", "node_id", nodeID)
}

// Heartbeat records that the node is alive. The durable timestamp is written
// through so reachability survives a control-plane restart.
func (r *Registry) Heartbeat(ctx context.Context, nodeID string) {
	now := time.Now()

	r.mu.Lock()
	r.lastBeat[nodeID] = now
	r.mu.Unlock()

	if err := r.store.SetNodeReachable(ctx, nodeID, true, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Error("recording heartbeat", "node_id", nodeID, "error", err)
	}
}

// IsReachable reports whether the node has at least one live connection.
func (r *Registry) IsReachable(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[nodeID]) > 0
}

// ConnectionsFor returns the live connections bound to a node.
func (r *Registry) ConnectionsFor(nodeID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns[nodeID]))
	for conn := range r.conns[nodeID] {
		conns = append(conns, conn)
	}
	return conns
}

// ConnectedNodes returns the IDs of all nodes with a live connection.
func (r *Registry) ConnectedNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// StartSweeper launches a goroutine that closes connections for nodes whose
// heartbeats have gone stale. Runs until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval, window time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepStale(ctx, window)
			}
		}
	}()
}

// sweepStale force-closes connections for nodes that missed their heartbeat
// window. Unregister runs via the gateway's read-loop teardown when the
// socket closes, so the durable flag clears through the normal path.
func (r *Registry) sweepStale(ctx context.Context, window time.Duration) {
	cutoff := time.Now().Add(-window)

	r.mu.RLock()
	var stale []string
	for nodeID, beat := range r.lastBeat {
		if beat.Before(cutoff) {
			stale = append(stale, nodeID)
		}
	}
	r.mu.RUnlock()

	for _, nodeID := range stale {
		r.logger.Warn("node heartbeat expired, closing connections", "node_id", nodeID)
		for _, conn := range r.ConnectionsFor(nodeID) {
			conn.ForceClose("heartbeat expired")
		}
		if err := r.store.SetNodeReachable(ctx, nodeID, false, cutoff); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("clearing reachability for stale node", "node_id", nodeID, "error", err)
		}
	}
}
