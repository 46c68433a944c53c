// ABOUTME: Tests for the action lifecycle service
// ABOUTME: Covers the one-way state machine, verbatim failure results, and authorization

package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/store"
)

const proposalText = `Let me check that file first.

[ACTION]{"type":"read-file","description":"inspect the config","payload":{"serverId":"s1","path":"server.properties"}}[/ACTION]`

func newTestService(t *testing.T, reg *Registry) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if reg == nil {
		reg = NewRegistry()
	}
	return NewService(st, reg, nil), st
}

func makeConversation(t *testing.T, st *store.SQLiteStore, id, principalID string) {
	t.Helper()
	conv := &store.Conversation{ID: id, PrincipalID: principalID}
	require.NoError(t, st.CreateConversation(context.Background(), conv))
}

func owner() *auth.AuthContext {
	return &auth.AuthContext{PrincipalID: "alice"}
}

func admin() *auth.AuthContext {
	return &auth.AuthContext{PrincipalID: "root", Roles: []string{"admin"}}
}

func TestCreateFromProposal_PersistsPendingActions(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()
	makeConversation(t, st, "c1", "alice")

	actions, err := svc.CreateFromProposal(ctx, "c1", proposalText)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, store.ActionReadFile, actions[0].Type)
	assert.Equal(t, store.ActionPending, actions[0].Status)

	stored, err := st.GetAction(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.ActionPending, stored.Status)
	assert.Equal(t, "c1", stored.ConversationID)
}

func TestCreateFromProposal_UnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CreateFromProposal(context.Background(), "missing", proposalText)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateFromProposal_NoMarkersIsEmpty(t *testing.T) {
	svc, st := newTestService(t, nil)
	makeConversation(t, st, "c1", "alice")

	actions, err := svc.CreateFromProposal(context.Background(), "c1", "just chatting")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func proposeOne(t *testing.T, svc *Service, st *store.SQLiteStore) *store.Action {
	t.Helper()
	makeConversation(t, st, "c1", "alice")
	actions, err := svc.CreateFromProposal(context.Background(), "c1", proposalText)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	return actions[0]
}

func TestApproveAndExecute_Success(t *testing.T) {
	reg := NewRegistry()
	reg.Register(store.ActionReadFile, func(ctx context.Context, act *store.Action) (string, error) {
		return "motd=hello", nil
	})
	svc, st := newTestService(t, reg)
	act := proposeOne(t, svc, st)

	got, err := svc.ApproveAndExecute(context.Background(), act.ID, owner())
	require.NoError(t, err)
	assert.Equal(t, store.ActionExecuted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "motd=hello", *got.Result)

	stored, err := st.GetAction(context.Background(), act.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ActionExecuted, stored.Status)
}

func TestApproveAndExecute_FailureRecordsErrorVerbatim(t *testing.T) {
	reg := NewRegistry()
	reg.Register(store.ActionReadFile, func(ctx context.Context, act *store.Action) (string, error) {
		return "", errors.New("daemon is not connected: node n1")
	})
	svc, st := newTestService(t, reg)
	act := proposeOne(t, svc, st)

	got, err := svc.ApproveAndExecute(context.Background(), act.ID, owner())
	require.NoError(t, err, "executor failure is an outcome, not a service error")
	assert.Equal(t, store.ActionFailed, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "daemon is not connected: node n1", *got.Result)
}

func TestApproveAndExecute_UnregisteredTypeFails(t *testing.T) {
	svc, st := newTestService(t, nil)
	act := proposeOne(t, svc, st)

	got, err := svc.ApproveAndExecute(context.Background(), act.ID, owner())
	require.NoError(t, err)
	assert.Equal(t, store.ActionFailed, got.Status)
	require.NotNil(t, got.Result)
	assert.Contains(t, *got.Result, "no executor registered")
}

func TestApproveAndExecute_TerminalStateIsInvalid(t *testing.T) {
	svc, st := newTestService(t, nil)
	act := proposeOne(t, svc, st)

	require.NoError(t, svc.Reject(context.Background(), act.ID, owner()))

	_, err := svc.ApproveAndExecute(context.Background(), act.ID, owner())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReject_PendingToRejected(t *testing.T) {
	svc, st := newTestService(t, nil)
	act := proposeOne(t, svc, st)

	require.NoError(t, svc.Reject(context.Background(), act.ID, owner()))

	stored, err := st.GetAction(context.Background(), act.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ActionRejected, stored.Status)
	assert.Nil(t, stored.Result)
}

func TestReject_AfterExecutionIsInvalid(t *testing.T) {
	reg := NewRegistry()
	reg.Register(store.ActionReadFile, func(ctx context.Context, act *store.Action) (string, error) {
		return "ok", nil
	})
	svc, st := newTestService(t, reg)
	act := proposeOne(t, svc, st)

	_, err := svc.ApproveAndExecute(context.Background(), act.ID, owner())
	require.NoError(t, err)

	err = svc.Reject(context.Background(), act.ID, owner())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReject_UnknownAction(t *testing.T) {
	svc, _ := newTestService(t, nil)
	err := svc.Reject(context.Background(), "missing", owner())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuthorization(t *testing.T) {
	tests := []struct {
		name      string
		principal *auth.AuthContext
		wantErr   error
	}{
		{"nil principal", nil, ErrUnauthorized},
		{"stranger", &auth.AuthContext{PrincipalID: "mallory"}, ErrUnauthorized},
		{"owner", owner(), nil},
		{"admin", admin(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t, nil)
			act := proposeOne(t, svc, st)

			err := svc.Reject(context.Background(), act.ID, tt.principal)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestReconcileStuck_FailsStrandedApprovals(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()
	act := proposeOne(t, svc, st)

	// Simulate a crash between approval and the outcome write.
	require.NoError(t, st.TransitionAction(ctx, act.ID, store.ActionPending, store.ActionApproved, nil))

	n, err := svc.ReconcileStuck(ctx, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := st.GetAction(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ActionFailed, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Contains(t, *stored.Result, "outcome unknown")
}

func TestReconcileStuck_LeavesPendingAlone(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()
	act := proposeOne(t, svc, st)

	n, err := svc.ReconcileStuck(ctx, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stored, err := st.GetAction(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ActionPending, stored.Status)
}
