// ABOUTME: Wire envelope for the event-named message channel.
// ABOUTME: Every frame is {event, body}; correlated bodies carry requestId.

package ws

import (
	"encoding/json"
	"strings"
)

// Event is a single frame on the channel. Body holds the raw JSON payload so
// packages can decode into their own typed shapes.
type Event struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Reply event name suffixes. Reply names are derived from the command name:
// "files:read" is answered by "files:read:response" or "files:read:error".
const (
	ResponseSuffix = ":response"
	ErrorSuffix    = ":error"
)

// ResponseEvent returns the success reply event name for a command.
func ResponseEvent(command string) string {
	return command + ResponseSuffix
}

// ErrorEvent returns the error reply event name for a command.
func ErrorEvent(command string) string {
	return command + ErrorSuffix
}

// SplitReply reports whether name is a reply event and, if so, returns the
// originating command name and whether the reply is an error.
func SplitReply(name string) (command string, isError, ok bool) {
	if c, found := strings.CutSuffix(name, ResponseSuffix); found {
		return c, false, true
	}
	if c, found := strings.CutSuffix(name, ErrorSuffix); found {
		return c, true, true
	}
	return "", false, false
}

// CorrelatedBody is the fragment of a reply body the correlation layer needs.
type CorrelatedBody struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error,omitempty"`
}
