// ABOUTME: Conversation ownership layer: create, list, and delete conversations
// ABOUTME: Every conversation belongs to one principal; deletion cascades to its actions

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/store"
)

// ErrUnauthorized mirrors the action service's gate: only the owning
// principal or an administrator may touch a conversation.
var ErrUnauthorized = errors.New("not authorized for this conversation")

// ConversationStore is the persistence slice the service consumes.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversationsByPrincipal(ctx context.Context, principalID string) ([]*store.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Service owns conversation records and their authorization scope.
type Service struct {
	store  ConversationStore
	logger *slog.Logger
}

// New creates a conversation service.
func New(st ConversationStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "conversation"),
	}
}

// Create opens a new conversation owned by the principal.
func (s *Service) Create(ctx context.Context, principal *auth.AuthContext) (*store.Conversation, error) {
	if principal == nil {
		return nil, ErrUnauthorized
	}

	conv := &store.Conversation{
		ID:          uuid.New().String(),
		PrincipalID: principal.PrincipalID,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "principal_id", conv.PrincipalID)
	return conv, nil
}

// Get loads one conversation the principal is allowed to see.
func (s *Service) Get(ctx context.Context, id string, principal *auth.AuthContext) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(conv, principal); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the principal's own conversations, newest first.
func (s *Service) List(ctx context.Context, principal *auth.AuthContext) ([]*store.Conversation, error) {
	if principal == nil {
		return nil, ErrUnauthorized
	}
	return s.store.ListConversationsByPrincipal(ctx, principal.PrincipalID)
}

// Delete removes a conversation and, through the store's cascade, every
// action it owns. Pending actions disappear with it; there is no orphaned
// approval queue.
func (s *Service) Delete(ctx context.Context, id string, principal *auth.AuthContext) error {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(conv, principal); err != nil {
		return err
	}

	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", "conversation_id", id, "principal_id", principal.PrincipalID)
	return nil
}

func (s *Service) authorize(conv *store.Conversation, principal *auth.AuthContext) error {
	if principal == nil {
		return ErrUnauthorized
	}
	if principal.IsAdmin() {
		return nil
	}
	if conv.PrincipalID != principal.PrincipalID {
		return ErrUnauthorized
	}
	return nil
}
