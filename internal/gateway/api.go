// ABOUTME: HTTP API handlers for node enrollment, dispatch, and action approval
// ABOUTME: All /api routes require a valid session token; health routes do not

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/craterhq/crater/internal/action"
	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/conversation"
	"github.com/craterhq/crater/internal/dispatch"
	"github.com/craterhq/crater/internal/relay"
	"github.com/craterhq/crater/internal/store"
)

// CreateNodeRequest is the JSON request body for POST /api/nodes.
type CreateNodeRequest struct {
	Name string `json:"name"`
}

// CreateNodeResponse returns the enrolled node and its one-time credential.
type CreateNodeResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credential string `json:"credential"`
}

// NodeResponse is the JSON shape for GET /api/nodes.
type NodeResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Reachable     bool   `json:"reachable"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
}

// PowerActionRequest is the JSON request body for POST /api/servers/{id}/power.
type PowerActionRequest struct {
	Action string                `json:"action"`
	Config dispatch.ServerConfig `json:"config"`
}

// CommandRequest is the JSON request body for POST /api/servers/{id}/command.
type CommandRequest struct {
	Command string `json:"command"`
}

// ProposalRequest is the JSON request body for POST /api/conversations/{id}/actions.
type ProposalRequest struct {
	Text string `json:"text"`
}

// ActionResponse is the JSON shape of one action.
type ActionResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Result      *string         `json:"result,omitempty"`
}

// routes builds the gateway's HTTP mux.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/ws/node", g.handleNodeWS)
	mux.HandleFunc("/ws/client", g.handleClientWS)

	mux.Handle("/api/nodes", g.requireSession(http.HandlerFunc(g.handleNodes)))
	mux.Handle("/api/nodes/", g.requireSession(http.HandlerFunc(g.handleNodeRoutes)))
	mux.Handle("/api/servers/", g.requireSession(http.HandlerFunc(g.handleServerRoutes)))
	mux.Handle("/api/conversations", g.requireSession(http.HandlerFunc(g.handleConversations)))
	mux.Handle("/api/conversations/", g.requireSession(http.HandlerFunc(g.handleConversationRoutes)))
	mux.Handle("/api/actions/", g.requireSession(http.HandlerFunc(g.handleActionRoutes)))

	return mux
}

// requireSession verifies the session token and attaches the principal to
// the request context.
func (g *Gateway) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			g.sendJSONError(w, http.StatusUnauthorized, "missing token")
			return
		}
		principal, err := g.verifier.Verify(tok)
		if err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), principal)))
	})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one node is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	nodes := g.registry.ConnectedNodes()
	if len(nodes) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no nodes connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d nodes)", len(nodes))
}

// handleNodes serves GET (list) and POST (enroll) on /api/nodes.
func (g *Gateway) handleNodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListNodes(w, r)
	case http.MethodPost:
		g.handleCreateNode(w, r)
	default:
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (g *Gateway) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := g.store.ListNodes(r.Context())
	if err != nil {
		g.logger.Error("listing nodes failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		resp := NodeResponse{
			ID:        n.ID,
			Name:      n.Name,
			Reachable: g.registry.IsReachable(n.ID),
		}
		if n.LastHeartbeat != nil {
			resp.LastHeartbeat = n.LastHeartbeat.Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	g.writeJSON(w, http.StatusOK, out)
}

// handleCreateNode enrolls a node and returns its credential exactly once.
func (g *Gateway) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())
	if principal == nil || !principal.IsAdmin() {
		g.sendJSONError(w, http.StatusForbidden, "admin role required")
		return
	}

	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	plaintext, hash, err := auth.NewCredential()
	if err != nil {
		g.logger.Error("credential generation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	rec := &store.Node{
		ID:        uuid.New().String(),
		Name:      req.Name,
		TokenHash: hash,
	}
	if err := g.store.CreateNode(r.Context(), rec); err != nil {
		g.logger.Error("node enrollment failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("node enrolled", "node_id", rec.ID, "name", rec.Name)
	g.writeJSON(w, http.StatusCreated, CreateNodeResponse{
		ID:         rec.ID,
		Name:       rec.Name,
		Credential: plaintext,
	})
}

// handleNodeRoutes serves POST /api/nodes/{id}/rotate.
func (g *Gateway) handleNodeRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/nodes/")
	nodeID, op, ok := strings.Cut(rest, "/")
	if !ok || nodeID == "" || op != "rotate" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	principal := auth.FromContext(r.Context())
	if principal == nil || !principal.IsAdmin() {
		g.sendJSONError(w, http.StatusForbidden, "admin role required")
		return
	}

	rec, err := g.store.GetNode(r.Context(), nodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "not found")
			return
		}
		g.logger.Error("loading node failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	plaintext, hash, err := auth.NewCredential()
	if err != nil {
		g.logger.Error("credential generation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := g.store.RotateNodeCredential(r.Context(), rec.ID, hash); err != nil {
		g.logger.Error("credential rotation failed", "node_id", rec.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Connections authenticated with the old credential do not outlive it.
	for _, conn := range g.registry.ConnectionsFor(rec.ID) {
		conn.ForceClose("credential rotated")
	}

	g.logger.Info("node credential rotated", "node_id", rec.ID, "principal_id", principal.PrincipalID)
	g.writeJSON(w, http.StatusOK, CreateNodeResponse{
		ID:         rec.ID,
		Name:       rec.Name,
		Credential: plaintext,
	})
}

// handleServerRoutes dispatches /api/servers/{id}/power and
// /api/servers/{id}/command.
func (g *Gateway) handleServerRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/servers/")
	serverID, op, ok := strings.Cut(rest, "/")
	if !ok || serverID == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch op {
	case "power":
		var req PowerActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		err := g.dispatcher.PowerAction(r.Context(), serverID, req.Action, req.Config)
		g.finishDispatch(w, err)
	case "command":
		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
			g.sendJSONError(w, http.StatusBadRequest, "command is required")
			return
		}
		err := g.dispatcher.RunCommand(r.Context(), serverID, req.Command)
		g.finishDispatch(w, err)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// ConversationResponse is the JSON shape of one conversation.
type ConversationResponse struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	CreatedAt   string `json:"created_at"`
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:          conv.ID,
		PrincipalID: conv.PrincipalID,
		CreatedAt:   conv.CreatedAt.Format(time.RFC3339),
	}
}

// handleConversations serves POST (create) and GET (list own) on
// /api/conversations.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())

	switch r.Method {
	case http.MethodPost:
		conv, err := g.conversations.Create(r.Context(), principal)
		if err != nil {
			g.conversationError(w, err)
			return
		}
		g.writeJSON(w, http.StatusCreated, conversationResponse(conv))
	case http.MethodGet:
		convs, err := g.conversations.List(r.Context(), principal)
		if err != nil {
			g.conversationError(w, err)
			return
		}
		out := make([]ConversationResponse, len(convs))
		for i, conv := range convs {
			out[i] = conversationResponse(conv)
		}
		g.writeJSON(w, http.StatusOK, out)
	default:
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConversationRoutes serves DELETE /api/conversations/{id} and the
// action sub-routes POST and GET /api/conversations/{id}/actions.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	convID, op, _ := strings.Cut(rest, "/")
	if convID == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	principal := auth.FromContext(r.Context())

	if op == "" {
		if r.Method != http.MethodDelete {
			g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := g.conversations.Delete(r.Context(), convID, principal); err != nil {
			g.conversationError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if op != "actions" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	// Proposing into or listing a conversation requires the same access as
	// reading it.
	if _, err := g.conversations.Get(r.Context(), convID, principal); err != nil {
		g.conversationError(w, err)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req ProposalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			g.sendJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		acts, err := g.actions.CreateFromProposal(r.Context(), convID, req.Text)
		if err != nil {
			g.actionError(w, err)
			return
		}
		g.writeJSON(w, http.StatusCreated, actionResponses(acts))
	case http.MethodGet:
		acts, err := g.actions.List(r.Context(), convID)
		if err != nil {
			g.actionError(w, err)
			return
		}
		g.writeJSON(w, http.StatusOK, actionResponses(acts))
	default:
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleActionRoutes serves POST /api/actions/{id}/approve and
// /api/actions/{id}/reject.
func (g *Gateway) handleActionRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/actions/")
	actionID, op, ok := strings.Cut(rest, "/")
	if !ok || actionID == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	principal := auth.FromContext(r.Context())

	switch op {
	case "approve":
		act, err := g.actions.ApproveAndExecute(r.Context(), actionID, principal)
		if err != nil {
			g.actionError(w, err)
			return
		}
		g.writeJSON(w, http.StatusOK, actionResponse(act))
	case "reject":
		if err := g.actions.Reject(r.Context(), actionID, principal); err != nil {
			g.actionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// finishDispatch maps dispatch errors to HTTP statuses. Timeouts are 504,
// not 502: the outcome on the node is unknown, not known-bad.
func (g *Gateway) finishDispatch(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var downstream *relay.DownstreamError
	switch {
	case errors.Is(err, dispatch.ErrServerNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrNodeUnreachable):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, relay.ErrTimeout):
		g.sendJSONError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &downstream):
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
	default:
		g.logger.Error("dispatch failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// conversationError maps conversation service errors to HTTP statuses.
func (g *Gateway) conversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, conversation.ErrUnauthorized):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	default:
		g.logger.Error("conversation operation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// actionError maps action lifecycle errors to HTTP statuses.
func (g *Gateway) actionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, action.ErrUnauthorized):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, action.ErrInvalidTransition):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		g.logger.Error("action operation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func actionResponse(act *store.Action) ActionResponse {
	return ActionResponse{
		ID:          act.ID,
		Type:        string(act.Type),
		Description: act.Description,
		Payload:     act.Payload,
		Status:      string(act.Status),
		Result:      act.Result,
	}
}

func actionResponses(acts []*store.Action) []ActionResponse {
	out := make([]ActionResponse, len(acts))
	for i, act := range acts {
		out[i] = actionResponse(act)
	}
	return out
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
