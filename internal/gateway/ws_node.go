// ABOUTME: Websocket endpoint for node daemon connections
// ABOUTME: Authenticates by credential hash, then pumps events into the relay and fanout

package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/store"
	"github.com/craterhq/crater/internal/ws"
)

// EventHeartbeat is the liveness frame nodes send between work.
const EventHeartbeat = "heartbeat"

// bearerToken extracts the credential from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// handleNodeWS upgrades a node daemon connection. The credential is
// verified before the upgrade; a bad credential never reaches the socket
// layer.
func (g *Gateway) handleNodeWS(w http.ResponseWriter, r *http.Request) {
	cred := bearerToken(r)
	if cred == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	rec, err := g.store.GetNodeByTokenHash(r.Context(), auth.HashCredential(cred))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown credential", http.StatusUnauthorized)
			return
		}
		g.logger.Error("node auth lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("node websocket accept failed", "node_id", rec.ID, "error", err)
		return
	}

	conn := ws.NewConn(sock, ws.KindNode, rec.ID, g.logger)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := g.registry.Register(r.Context(), rec.ID, conn); err != nil {
		g.logger.Warn("node registration failed", "node_id", rec.ID, "error", err)
		conn.ForceClose("registration failed")
		return
	}
	g.hub.Join(conn, hub.NodeRoom(rec.ID))
	g.logger.Info("node connected", "node_id", rec.ID, "session_id", conn.SessionID)

	defer func() {
		g.hub.Drop(conn)
		g.registry.Unregister(context.Background(), conn)
		g.logger.Info("node disconnected", "node_id", rec.ID, "session_id", conn.SessionID)
	}()

	g.nodeReadLoop(r.Context(), rec.ID, conn)
}

// nodeReadLoop routes inbound node frames until the socket dies. Replies
// go to the correlator first; everything, replies included, is offered to
// the fanout so live observers see the traffic.
func (g *Gateway) nodeReadLoop(ctx context.Context, nodeID string, conn *ws.Conn) {
	for {
		ev, err := conn.Read(ctx)
		if err != nil {
			g.logger.Debug("node read ended", "node_id", nodeID, "error", err)
			return
		}

		if ev.Event == EventHeartbeat {
			g.registry.Heartbeat(ctx, nodeID)
			continue
		}

		if g.correlator.HandleReply(ev) {
			// Correlated replies are also broadcast as a best-effort
			// signal; the waiter already has the real answer.
			g.fanout.Relay(ctx, nodeID, ev)
			continue
		}

		g.fanout.Relay(ctx, nodeID, ev)
	}
}
