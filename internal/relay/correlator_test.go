// ABOUTME: Tests for request/response correlation over the event channel
// ABOUTME: Covers single resolution, timeouts, late replies, and error replies

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craterhq/crater/internal/hub"
	"github.com/craterhq/crater/internal/ws"
)

// capturePub records published events so tests can lift the request id
// back out of the outgoing body.
type capturePub struct {
	mu     sync.Mutex
	events []ws.Event
	rooms  []hub.Room
}

func (p *capturePub) Publish(room hub.Room, ev ws.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	p.rooms = append(p.rooms, room)
	return 1
}

func (p *capturePub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *capturePub) last(t *testing.T) ws.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.events)
	return p.events[len(p.events)-1]
}

// requestIDOf extracts the request id stamped into an outgoing body.
func requestIDOf(t *testing.T, ev ws.Event) string {
	t.Helper()
	var corr ws.CorrelatedBody
	require.NoError(t, json.Unmarshal(ev.Body, &corr))
	require.NotEmpty(t, corr.RequestID)
	return corr.RequestID
}

// callResult carries a Call's outcome across the test goroutine boundary.
type callResult struct {
	body json.RawMessage
	err  error
}

// startCall runs Call in the background and hands back its outcome channel
// once the command has been published.
func startCall(t *testing.T, c *Correlator, pub *capturePub, command string, timeout time.Duration) (string, <-chan callResult) {
	t.Helper()

	want := pub.count() + 1
	done := make(chan callResult, 1)
	go func() {
		body, err := c.Call(context.Background(), hub.NodeRoom("n1"), command, map[string]string{"path": "a.txt"}, timeout)
		done <- callResult{body: body, err: err}
	}()

	require.Eventually(t, func() bool {
		return pub.count() >= want
	}, time.Second, time.Millisecond)

	return requestIDOf(t, pub.last(t)), done
}

func TestCorrelator_CallResolvesOnMatchingReply(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	requestID, done := startCall(t, c, pub, "files:read", time.Second)

	reply, _ := json.Marshal(map[string]string{"requestId": requestID, "content": "hello"})
	handled := c.HandleReply(ws.Event{Event: "files:read:response", Body: reply})
	assert.True(t, handled)

	res := <-done
	require.NoError(t, res.err)
	assert.Contains(t, string(res.body), "hello")
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_ErrorReplyCarriesMessageVerbatim(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	requestID, done := startCall(t, c, pub, "files:read", time.Second)

	reply, _ := json.Marshal(map[string]string{"requestId": requestID, "error": "no such file"})
	handled := c.HandleReply(ws.Event{Event: "files:read:error", Body: reply})
	assert.True(t, handled)

	res := <-done
	require.Error(t, res.err)

	var downstream *DownstreamError
	require.ErrorAs(t, res.err, &downstream)
	assert.Equal(t, "files:read", downstream.Command)
	assert.Equal(t, "no such file", downstream.Message)
}

func TestCorrelator_TimeoutThenLateReplyIsDiscarded(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	requestID, done := startCall(t, c, pub, "files:read", 20*time.Millisecond)

	res := <-done
	require.ErrorIs(t, res.err, ErrTimeout)
	assert.Equal(t, 0, c.PendingCount())

	// The late reply arrives after resolution and changes nothing.
	reply, _ := json.Marshal(map[string]string{"requestId": requestID, "content": "too late"})
	handled := c.HandleReply(ws.Event{Event: "files:read:response", Body: reply})
	assert.True(t, handled)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_OnlyFirstResolutionWins(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	requestID, done := startCall(t, c, pub, "files:read", time.Second)

	success, _ := json.Marshal(map[string]string{"requestId": requestID, "content": "first"})
	failure, _ := json.Marshal(map[string]string{"requestId": requestID, "error": "second"})

	c.HandleReply(ws.Event{Event: "files:read:response", Body: success})
	c.HandleReply(ws.Event{Event: "files:read:error", Body: failure})

	res := <-done
	require.NoError(t, res.err)
	assert.Contains(t, string(res.body), "first")
}

func TestCorrelator_ReplyForDifferentCommandDoesNotResolve(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	requestID, done := startCall(t, c, pub, "files:read", 50*time.Millisecond)

	// Same id, wrong command: the waiter must not be resolved by it.
	reply, _ := json.Marshal(map[string]string{"requestId": requestID, "content": "imposter"})
	c.HandleReply(ws.Event{Event: "files:write:response", Body: reply})

	res := <-done
	require.ErrorIs(t, res.err, ErrTimeout)
}

func TestCorrelator_CancellationAbandonsCall(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan callResult, 1)
	go func() {
		body, err := c.Call(ctx, hub.NodeRoom("n1"), "files:read", nil, time.Minute)
		done <- callResult{body: body, err: err}
	}()

	require.Eventually(t, func() bool {
		return c.PendingCount() == 1
	}, time.Second, time.Millisecond)

	cancel()
	res := <-done
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_NonReplyEventsAreNotHandled(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	handled := c.HandleReply(ws.Event{Event: "server:console", Body: json.RawMessage(`{}`)})
	assert.False(t, handled)
}

func TestCorrelator_PayloadMustBeObject(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	_, err := c.Call(context.Background(), hub.NodeRoom("n1"), "files:read", []string{"not", "an", "object"}, time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestCorrelator_DistinctCallsResolveIndependently(t *testing.T) {
	pub := &capturePub{}
	c := New(pub, nil)
	defer c.Close()

	firstID, firstDone := startCall(t, c, pub, "files:read", time.Second)

	secondDone := make(chan callResult, 1)
	go func() {
		body, err := c.Call(context.Background(), hub.NodeRoom("n2"), "files:list", map[string]string{"path": "/"}, time.Second)
		secondDone <- callResult{body: body, err: err}
	}()
	require.Eventually(t, func() bool {
		return pub.count() == 2
	}, time.Second, time.Millisecond)
	secondID := requestIDOf(t, pub.last(t))

	// Resolve out of order.
	secondReply, _ := json.Marshal(map[string]string{"requestId": secondID, "entries": "[]"})
	c.HandleReply(ws.Event{Event: "files:list:response", Body: secondReply})
	firstReply, _ := json.Marshal(map[string]string{"requestId": firstID, "content": "data"})
	c.HandleReply(ws.Event{Event: "files:read:response", Body: firstReply})

	first := <-firstDone
	second := <-secondDone
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Contains(t, string(first.body), "data")
	assert.Contains(t, string(second.body), "entries")
}
