// ABOUTME: Websocket endpoint for authenticated dashboard sessions
// ABOUTME: Clients join subscriber rooms to watch servers and node telemetry

package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/ws"
)

// Client-originated control events.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// subscribeBody names the room a client wants to watch.
type subscribeBody struct {
	Room string `json:"room"`
}

// sessionToken pulls the JWT from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query
// parameter.
func sessionToken(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

// handleClientWS upgrades a dashboard session connection. Every client
// lands in the shared clients room; server and telemetry rooms are opt-in
// via subscribe events.
func (g *Gateway) handleClientWS(w http.ResponseWriter, r *http.Request) {
	tok := sessionToken(r)
	if tok == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	principal, err := g.verifier.Verify(tok)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("client websocket accept failed", "principal_id", principal.PrincipalID, "error", err)
		return
	}

	conn := ws.NewConn(sock, ws.KindClient, principal.PrincipalID, g.logger)
	defer conn.Close(websocket.StatusNormalClosure, "")

	g.hub.Join(conn, hub.Clients())
	g.logger.Info("client connected", "principal_id", principal.PrincipalID, "session_id", conn.SessionID)

	defer func() {
		g.hub.Drop(conn)
		g.logger.Info("client disconnected", "principal_id", principal.PrincipalID, "session_id", conn.SessionID)
	}()

	g.clientReadLoop(r.Context(), conn)
}

// clientReadLoop processes subscribe/unsubscribe frames until the socket
// dies. Anything else from a client is ignored; clients observe, they do
// not command nodes directly.
func (g *Gateway) clientReadLoop(ctx context.Context, conn *ws.Conn) {
	for {
		ev, err := conn.Read(ctx)
		if err != nil {
			g.logger.Debug("client read ended", "session_id", conn.SessionID, "error", err)
			return
		}

		switch ev.Event {
		case EventSubscribe, EventUnsubscribe:
			g.handleSubscription(conn, ev)
		default:
			g.logger.Debug("unexpected client event ignored", "event", ev.Event, "session_id", conn.SessionID)
		}
	}
}

func (g *Gateway) handleSubscription(conn *ws.Conn, ev ws.Event) {
	var body subscribeBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		g.sendError(conn, ev.Event, "malformed subscription body")
		return
	}

	room, err := hub.ParseSubscribable(body.Room)
	if err != nil {
		g.sendError(conn, ev.Event, err.Error())
		return
	}

	if ev.Event == EventSubscribe {
		g.hub.Join(conn, room)
	} else {
		g.hub.Leave(conn, room)
	}
}

// sendError reports a client-side mistake back on the same channel.
func (g *Gateway) sendError(conn *ws.Conn, command, message string) {
	body, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return
	}
	conn.TrySend(ws.Event{Event: ws.ErrorEvent(command), Body: body})
}
