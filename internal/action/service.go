// ABOUTME: Action lifecycle service: create from proposals, reject, approve-and-execute
// ABOUTME: Enforces the one-way state machine and the owner-or-admin gate

package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/craterhq/crater/internal/auth"
	"github.com/craterhq/crater/internal/store"
)

// Lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid action transition")
	ErrUnauthorized      = errors.New("not authorized for this action")
)

// Store is the persistence slice the action service consumes.
type Store interface {
	CreateAction(ctx context.Context, action *store.Action) error
	GetAction(ctx context.Context, id string) (*store.Action, error)
	ListActionsByConversation(ctx context.Context, conversationID string) ([]*store.Action, error)
	TransitionAction(ctx context.Context, id string, from, to store.ActionStatus, result *string) error
	FailApprovedBefore(ctx context.Context, cutoff time.Time, result string) (int, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Service owns action state transitions. Approval and execution are one
// caller-visible step; the transient approved state exists so a crash
// between approval and the result write is auditable.
type Service struct {
	store  Store
	exec   *Registry
	logger *slog.Logger
}

// NewService creates an action service executing through reg.
func NewService(st Store, reg *Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		exec:   reg,
		logger: logger.With("component", "action"),
	}
}

// CreateFromProposal parses action markers out of raw text and persists
// each as a pending action owned by the conversation. A proposal with no
// valid markers returns an empty slice, not an error.
func (s *Service) CreateFromProposal(ctx context.Context, conversationID, raw string) ([]*store.Action, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	proposed := ParseProposal(raw, s.logger)
	actions := make([]*store.Action, 0, len(proposed))
	for _, p := range proposed {
		act := &store.Action{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Type:           p.Type,
			Description:    p.Description,
			Payload:        p.Payload,
			Status:         store.ActionPending,
		}
		if err := s.store.CreateAction(ctx, act); err != nil {
			return nil, fmt.Errorf("persisting action: %w", err)
		}
		actions = append(actions, act)
	}

	if len(actions) > 0 {
		s.logger.Info("actions proposed", "conversation_id", conversationID, "count", len(actions))
	}
	return actions, nil
}

// authorize verifies the principal owns the action's conversation or is
// an administrator. Runs before any state mutation.
func (s *Service) authorize(ctx context.Context, act *store.Action, principal *auth.AuthContext) error {
	if principal == nil {
		return ErrUnauthorized
	}
	if principal.IsAdmin() {
		return nil
	}
	conv, err := s.store.GetConversation(ctx, act.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if conv.PrincipalID != principal.PrincipalID {
		return ErrUnauthorized
	}
	return nil
}

// Reject moves a pending action to rejected. No dispatch occurs. Any
// other starting state, including an already rejected one, is an invalid
// transition.
func (s *Service) Reject(ctx context.Context, actionID string, principal *auth.AuthContext) error {
	act, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, act, principal); err != nil {
		return err
	}

	err = s.store.TransitionAction(ctx, actionID, store.ActionPending, store.ActionRejected, nil)
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, act.Status)
	}
	if err != nil {
		return err
	}
	s.logger.Info("action rejected", "action_id", actionID, "principal_id", principal.PrincipalID)
	return nil
}

// ApproveAndExecute moves a pending action through approved and runs it.
// Success lands it in executed with the executor's result; any execution
// error lands it in failed with the error message recorded verbatim. The
// returned action reflects the terminal state.
func (s *Service) ApproveAndExecute(ctx context.Context, actionID string, principal *auth.AuthContext) (*store.Action, error) {
	act, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, act, principal); err != nil {
		return nil, err
	}

	err = s.store.TransitionAction(ctx, actionID, store.ActionPending, store.ActionApproved, nil)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, fmt.Errorf("%w: approve from %s", ErrInvalidTransition, act.Status)
	}
	if err != nil {
		return nil, err
	}

	result, execErr := s.exec.Execute(ctx, act)

	to := store.ActionExecuted
	if execErr != nil {
		to = store.ActionFailed
		result = execErr.Error()
	}
	if err := s.store.TransitionAction(ctx, actionID, store.ActionApproved, to, &result); err != nil {
		// The action stays visibly stuck in approved; reconciliation
		// sweeps it to failed.
		return nil, fmt.Errorf("recording %s outcome: %w", to, err)
	}

	s.logger.Info("action resolved",
		"action_id", actionID,
		"type", string(act.Type),
		"status", string(to),
		"principal_id", principal.PrincipalID)

	act.Status = to
	act.Result = &result
	return act, nil
}

// ReconcileStuck fails every action still sitting in approved from before
// cutoff. Run at startup: an action stranded there means the process died
// between approval and the outcome write, so its true result is unknown.
func (s *Service) ReconcileStuck(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.store.FailApprovedBefore(ctx, cutoff, "interrupted before completion; outcome unknown")
	if err != nil {
		return 0, fmt.Errorf("reconciling stuck actions: %w", err)
	}
	if n > 0 {
		s.logger.Warn("stuck approved actions failed", "count", n)
	}
	return n, nil
}

// List returns the actions of one conversation, oldest first.
func (s *Service) List(ctx context.Context, conversationID string) ([]*store.Action, error) {
	return s.store.ListActionsByConversation(ctx, conversationID)
}
