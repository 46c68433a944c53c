// ABOUTME: Tests for the wire envelope and reply event naming.
// ABOUTME: Covers reply suffix derivation, splitting, and envelope encoding.

package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyEventNames(t *testing.T) {
	assert.Equal(t, "files:read:response", ResponseEvent("files:read"))
	assert.Equal(t, "files:read:error", ErrorEvent("files:read"))
}

func TestSplitReply(t *testing.T) {
	tests := []struct {
		name        string
		wantCommand string
		wantError   bool
		wantOK      bool
	}{
		{"files:read:response", "files:read", false, true},
		{"files:read:error", "files:read", true, true},
		{"backup:create:response", "backup:create", false, true},
		{"files:read", "", false, false},
		{"heartbeat", "", false, false},
		{"error", "", false, false},
		{"", "", false, false},
	}

	for _, tt := range tests {
		command, isError, ok := SplitReply(tt.name)
		assert.Equal(t, tt.wantCommand, command, tt.name)
		assert.Equal(t, tt.wantError, isError, tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
	}
}

func TestEventEncoding(t *testing.T) {
	ev := Event{Event: "server:status", Body: json.RawMessage(`{"serverId":"s1","status":"running"}`)}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "server:status", back.Event)
	assert.JSONEq(t, `{"serverId":"s1","status":"running"}`, string(back.Body))
}

func TestEventEncoding_OmitsEmptyBody(t *testing.T) {
	data, err := json.Marshal(Event{Event: "heartbeat"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"heartbeat"}`, string(data))
}

func TestCorrelatedBodyDecoding(t *testing.T) {
	var body CorrelatedBody
	require.NoError(t, json.Unmarshal([]byte(`{"requestId":"r1","error":"denied","extra":42}`), &body))
	assert.Equal(t, "r1", body.RequestID)
	assert.Equal(t, "denied", body.Error)
}
