// ABOUTME: Tests for HTTP helpers: token extraction, session middleware, error mapping
// ABOUTME: Uses httptest recorders; no listener or websocket upgrade involved

package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craterhq/crater/internal/action"
	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/conversation"
	"github.com/craterhq/crater/internal/dispatch"
	"github.com/craterhq/crater/internal/relay"
	"github.com/craterhq/crater/internal/store"
)

func testGateway() *Gateway {
	return &Gateway{
		verifier: auth.NewJWTVerifier([]byte("test-secret")),
		logger:   slog.Default(),
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(r))

	r.Header.Set("Authorization", "Basic abc123")
	assert.Empty(t, bearerToken(r))
}

func TestSessionToken_FallsBackToQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/client?token=query-tok", nil)
	assert.Equal(t, "query-tok", sessionToken(r))

	r.Header.Set("Authorization", "Bearer header-tok")
	assert.Equal(t, "header-tok", sessionToken(r), "header wins over query")
}

func TestRequireSession(t *testing.T) {
	g := testGateway()

	var seen *auth.AuthContext
	handler := g.requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Missing token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nodes", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token.
	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token attaches the principal.
	tok, err := g.verifier.Generate("alice", []string{"admin"}, time.Hour)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.PrincipalID)
	assert.True(t, seen.IsAdmin())
}

func TestFinishDispatch_StatusMapping(t *testing.T) {
	g := testGateway()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, http.StatusNoContent},
		{"unknown server", dispatch.ErrServerNotFound, http.StatusNotFound},
		{"unreachable node", dispatch.ErrNodeUnreachable, http.StatusConflict},
		{"timeout", relay.ErrTimeout, http.StatusGatewayTimeout},
		{"downstream", &relay.DownstreamError{Command: "files:read", Message: "no such file"}, http.StatusBadGateway},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			g.finishDispatch(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestActionError_StatusMapping(t *testing.T) {
	g := testGateway()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"unauthorized", action.ErrUnauthorized, http.StatusForbidden},
		{"invalid transition", action.ErrInvalidTransition, http.StatusConflict},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			g.actionError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestConversationError_StatusMapping(t *testing.T) {
	g := testGateway()

	rec := httptest.NewRecorder()
	g.conversationError(rec, conversation.ErrUnauthorized)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	g.conversationError(rec, store.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
