// ABOUTME: Request/response correlation over the fire-and-forget event channel.
// ABOUTME: Stamps commands with a request id and awaits the matching reply or timeout.

package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/craterhq/crater/internal/dedupe"
	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/ws"
)

// DefaultTimeout bounds interactive calls. Callers with slower operations
// (downloads, backups) pass their own.
const DefaultTimeout = 30 * time.Second

// resolvedTTL is how long a resolved request id is remembered so a late
// reply is logged as late rather than unknown.
const resolvedTTL = 2 * time.Minute

// ErrTimeout means no matching reply arrived within the deadline. The true
// outcome on the node is unknown; the operation may still complete there.
var ErrTimeout = errors.New("timed out waiting for reply")

// DownstreamError carries an error the node explicitly replied with.
type DownstreamError struct {
	Command string
	Message string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Publisher is the slice of the hub the correlator emits through.
type Publisher interface {
	Publish(room hub.Room, ev ws.Event) int
}

type outcome struct {
	body json.RawMessage
	err  error
}

type pendingCall struct {
	command string
	done    chan outcome
}

// Correlator turns the event channel into a call-and-await primitive. At most
// one pending entry exists per request id; the first of reply, error reply,
// or timeout wins and the losers become no-ops.
type Correlator struct {
	pub    Publisher
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall

	resolved *dedupe.Cache
}

// New creates a correlator publishing through pub.
func New(pub Publisher, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pub:      pub,
		logger:   logger.With("component", "relay"),
		pending:  make(map[string]*pendingCall),
		resolved: dedupe.New(resolvedTTL, 100_000),
	}
}

// Close releases the resolved-id cache.
func (c *Correlator) Close() {
	c.resolved.Close()
}

// newRequestID builds a correlation id from a random token and a timestamp.
func newRequestID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s-%d", hex.EncodeToString(buf[:]), time.Now().UnixMilli())
}

// encodeBody merges the request id into the command payload.
func encodeBody(requestID string, payload any) (json.RawMessage, error) {
	body := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("payload must encode to a JSON object: %w", err)
		}
	}
	body["requestId"] = requestID
	return json.Marshal(body)
}

// Call publishes command into room and blocks until the matching reply, the
// matching error reply, or the timeout, whichever comes first. A zero timeout
// means DefaultTimeout. Cancelling ctx abandons the wait like a timeout does.
func (c *Correlator) Call(ctx context.Context, room hub.Room, command string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	requestID := newRequestID()
	body, err := encodeBody(requestID, payload)
	if err != nil {
		return nil, err
	}

	call := &pendingCall{command: command, done: make(chan outcome, 1)}
	c.mu.Lock()
	c.pending[requestID] = call
	c.mu.Unlock()

	c.pub.Publish(room, ws.Event{Event: command, Body: body})
	c.logger.Debug("command dispatched", "command", command, "room", string(room), "request_id", requestID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-call.done:
		return out.body, out.err
	case <-timer.C:
		c.abandon(requestID)
		return nil, fmt.Errorf("%s: %w", command, ErrTimeout)
	case <-ctx.Done():
		c.abandon(requestID)
		return nil, ctx.Err()
	}
}

// abandon drops the pending entry after a timeout or cancellation. A reply
// racing the abandonment may have already resolved; the buffered done channel
// keeps that race harmless.
func (c *Correlator) abandon(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
	c.resolved.Mark(requestID)
}

// HandleReply routes an inbound reply event to its waiter. Reply events are
// recognized by their ":response" / ":error" suffix; anything else is ignored
// and reported as not-a-reply so the caller can relay it instead.
func (c *Correlator) HandleReply(ev ws.Event) bool {
	command, isError, ok := ws.SplitReply(ev.Event)
	if !ok {
		return false
	}

	var corr ws.CorrelatedBody
	if err := json.Unmarshal(ev.Body, &corr); err != nil || corr.RequestID == "" {
		c.logger.Warn("reply without request id", "event", ev.Event)
		return true
	}

	c.mu.Lock()
	call, found := c.pending[corr.RequestID]
	if found && call.command != command {
		// Same id, different command: never resolve the wrong waiter.
		found = false
	}
	if found {
		delete(c.pending, corr.RequestID)
	}
	c.mu.Unlock()

	if !found {
		if c.resolved.Check(corr.RequestID) {
			c.logger.Debug("late reply discarded", "event", ev.Event, "request_id", corr.RequestID)
		} else {
			c.logger.Warn("reply for unknown request", "event", ev.Event, "request_id", corr.RequestID)
		}
		return true
	}

	c.resolved.Mark(corr.RequestID)
	if isError {
		call.done <- outcome{err: &DownstreamError{Command: command, Message: corr.Error}}
	} else {
		call.done <- outcome{body: ev.Body}
	}
	return true
}

// PendingCount reports how many calls are currently awaiting replies.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
