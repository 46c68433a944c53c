// ABOUTME: SQLite persistence for conversations and proposed actions.
// ABOUTME: Action transitions are compare-and-set so double transitions lose.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, principal_id, created_at)
		VALUES (?, ?, ?)
	`, conv.ID, conv.PrincipalID, conv.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, principal_id, created_at FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.PrincipalID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &conv, nil
}

// ListConversationsByPrincipal returns a principal's conversations, newest
// first.
func (s *SQLiteStore) ListConversationsByPrincipal(ctx context.Context, principalID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal_id, created_at FROM conversations
		WHERE principal_id = ?
		ORDER BY created_at DESC, id
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var createdAt string
		if err := rows.Scan(&conv.ID, &conv.PrincipalID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation. Its actions go with it via the
// ON DELETE CASCADE constraint; there is no independent action deletion.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAction inserts a new action in its initial state.
func (s *SQLiteStore) CreateAction(ctx context.Context, action *Action) error {
	if action.Status == "" {
		action.Status = ActionPending
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	if action.UpdatedAt.IsZero() {
		action.UpdatedAt = action.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (id, conversation_id, type, description, payload, status, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		action.ID,
		action.ConversationID,
		string(action.Type),
		action.Description,
		[]byte(action.Payload),
		string(action.Status),
		action.Result,
		action.CreatedAt.UTC().Format(time.RFC3339),
		action.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}

	s.logger.Debug("created action", "id", action.ID, "type", string(action.Type))
	return nil
}

// GetAction retrieves an action by ID.
func (s *SQLiteStore) GetAction(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, type, description, payload, status, result, created_at, updated_at
		FROM actions WHERE id = ?
	`, id)
	return scanActionFrom(row)
}

// ListActionsByConversation returns a conversation's actions oldest first.
func (s *SQLiteStore) ListActionsByConversation(ctx context.Context, conversationID string) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, type, description, payload, status, result, created_at, updated_at
		FROM actions WHERE conversation_id = ? ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		action, err := scanActionFrom(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// TransitionAction moves an action from one status to another atomically.
// The WHERE clause enforces the expected source state: if the action exists
// but is in a different state, ErrStatusConflict is returned, which is how
// double transitions and transitions out of terminal states lose.
func (s *SQLiteStore) TransitionAction(ctx context.Context, id string, from, to ActionStatus, result *string) error {
	query := `
		UPDATE actions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	args := []any{string(to), time.Now().UTC().Format(time.RFC3339), id, string(from)}
	if result != nil {
		query = `
			UPDATE actions SET status = ?, result = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`
		args = []any{string(to), *result, time.Now().UTC().Format(time.RFC3339), id, string(from)}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transitioning action: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing action from a state mismatch.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM actions WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking action existence: %w", err)
		}
		return ErrStatusConflict
	}

	s.logger.Debug("action transitioned", "id", id, "from", string(from), "to", string(to))
	return nil
}

// FailApprovedBefore marks actions stuck in approved since before the cutoff
// as failed. Used by the startup reconciliation pass: an action resting in
// approved means the process died mid-dispatch.
func (s *SQLiteStore) FailApprovedBefore(ctx context.Context, cutoff time.Time, result string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ?, result = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`,
		string(ActionFailed),
		result,
		time.Now().UTC().Format(time.RFC3339),
		string(ActionApproved),
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failing stuck actions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if affected > 0 {
		s.logger.Warn("reconciled actions stuck in approved", "count", affected)
	}
	return int(affected), nil
}

func scanActionFrom(scanner rowScanner) (*Action, error) {
	var action Action
	var actionType, status string
	var payload []byte
	var result sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&action.ID,
		&action.ConversationID,
		&actionType,
		&action.Description,
		&payload,
		&status,
		&result,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning action: %w", err)
	}

	action.Type = ActionType(actionType)
	action.Status = ActionStatus(status)
	action.Payload = payload
	if result.Valid {
		action.Result = &result.String
	}
	if action.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if action.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &action, nil
}
