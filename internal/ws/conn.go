// ABOUTME: Wraps a websocket connection with a buffered outbound pump.
// ABOUTME: Sends are best-effort and never block the caller; slow peers drop frames.

package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// outboundBuffer is the per-connection queue depth before frames are dropped.
const outboundBuffer = 64

// Kind distinguishes the two connection classes the gateway accepts.
type Kind int

const (
	KindNode Kind = iota
	KindClient
)

func (k Kind) String() string {
	if k == KindNode {
		return "node"
	}
	return "client"
}

// Conn is an ephemeral binding between a websocket session and an identity:
// a node ID for node connections, a principal ID for client connections.
// It is never persisted and dies with the socket.
type Conn struct {
	// SessionID uniquely identifies this connection within the process.
	SessionID string
	// Identity is the node ID or principal ID bound at handshake.
	Identity string
	Kind     Kind

	sock   *websocket.Conn
	out    chan Event
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an accepted websocket and starts its writer pump.
func NewConn(sock *websocket.Conn, kind Kind, identity string, logger *slog.Logger) *Conn {
	c := &Conn{
		SessionID: uuid.New().String(),
		Identity:  identity,
		Kind:      kind,
		sock:      sock,
		out:       make(chan Event, outboundBuffer),
		logger:    logger.With("identity", identity, "kind", kind.String()),
		closed:    make(chan struct{}),
	}
	go c.pump()
	return c
}

// pump drains the outbound queue onto the socket until the connection closes.
func (c *Conn) pump() {
	for {
		select {
		case <-c.closed:
			return
		case ev := <-c.out:
			if err := wsjson.Write(context.Background(), c.sock, ev); err != nil {
				c.logger.Debug("write failed, closing connection", "event", ev.Event, "error", err)
				c.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// TrySend queues an event for delivery. Returns false if the connection is
// closed or its queue is full; the frame is dropped in both cases.
func (c *Conn) TrySend(ev Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- ev:
		return true
	default:
		c.logger.Debug("outbound queue full, dropping frame", "event", ev.Event)
		return false
	}
}

// Read blocks for the next inbound frame.
func (c *Conn) Read(ctx context.Context) (Event, error) {
	var ev Event
	err := wsjson.Read(ctx, c.sock, &ev)
	return ev, err
}

// Close tears the connection down. Safe to call multiple times.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.sock.Close(code, reason)
	})
}

// ForceClose closes with a policy-violation status. Used when the connection's
// identity no longer exists on the control plane.
func (c *Conn) ForceClose(reason string) {
	c.Close(websocket.StatusPolicyViolation, reason)
}
