// ABOUTME: Tests for the conversation ownership layer
// ABOUTME: Covers creation, principal-scoped listing, authorization, and cascade delete

package conversation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, nil), st
}

func alice() *auth.AuthContext {
	return &auth.AuthContext{PrincipalID: "alice"}
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, alice())
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "alice", conv.PrincipalID)

	got, err := svc.Get(ctx, conv.ID, alice())
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestCreate_RequiresPrincipal(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestGet_StrangerIsDenied(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, alice())
	require.NoError(t, err)

	_, err = svc.Get(ctx, conv.ID, &auth.AuthContext{PrincipalID: "mallory"})
	require.ErrorIs(t, err, ErrUnauthorized)

	// An admin sees everything.
	got, err := svc.Get(ctx, conv.ID, &auth.AuthContext{PrincipalID: "root", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestGet_Unknown(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "missing", alice())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestList_ScopedToPrincipal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice())
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice())
	require.NoError(t, err)
	_, err = svc.Create(ctx, &auth.AuthContext{PrincipalID: "bob"})
	require.NoError(t, err)

	mine, err := svc.List(ctx, alice())
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	for _, conv := range mine {
		assert.Equal(t, "alice", conv.PrincipalID)
	}
}

func TestDelete_CascadesToActions(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, alice())
	require.NoError(t, err)

	act := &store.Action{
		ID:             "a1",
		ConversationID: conv.ID,
		Type:           store.ActionReadFile,
		Description:    "read a file",
		Payload:        json.RawMessage(`{}`),
		Status:         store.ActionPending,
	}
	require.NoError(t, st.CreateAction(ctx, act))

	require.NoError(t, svc.Delete(ctx, conv.ID, alice()))

	_, err = st.GetConversation(ctx, conv.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetAction(ctx, "a1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_StrangerIsDenied(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, alice())
	require.NoError(t, err)

	err = svc.Delete(ctx, conv.ID, &auth.AuthContext{PrincipalID: "mallory"})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = st.GetConversation(ctx, conv.ID)
	require.NoError(t, err, "conversation must survive a denied delete")
}
