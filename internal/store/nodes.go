// ABOUTME: SQLite persistence for node records.
// ABOUTME: Covers registration, credential rotation, and reachability updates.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateNode inserts a new node record.
func (s *SQLiteStore) CreateNode(ctx context.Context, node *Node) error {
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = node.CreatedAt
	}

	query := `
		INSERT INTO nodes (id, name, token_hash, reachable, last_heartbeat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var heartbeat *string
	if node.LastHeartbeat != nil {
		hb := node.LastHeartbeat.UTC().Format(time.RFC3339)
		heartbeat = &hb
	}

	_, err := s.db.ExecContext(ctx, query,
		node.ID,
		node.Name,
		node.TokenHash,
		boolToInt(node.Reachable),
		heartbeat,
		node.CreatedAt.UTC().Format(time.RFC3339),
		node.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting node: %w", err)
	}

	s.logger.Debug("created node", "id", node.ID, "name", node.Name)
	return nil
}

// GetNode retrieves a node by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, token_hash, reachable, last_heartbeat, created_at, updated_at
		FROM nodes WHERE id = ?
	`, id)
	return scanNode(row)
}

// GetNodeByTokenHash retrieves the node whose credential hashes to the given
// value. Used at connection handshake time.
func (s *SQLiteStore) GetNodeByTokenHash(ctx context.Context, hash string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, token_hash, reachable, last_heartbeat, created_at, updated_at
		FROM nodes WHERE token_hash = ?
	`, hash)
	return scanNode(row)
}

// ListNodes returns all registered nodes ordered by name.
func (s *SQLiteStore) ListNodes(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, token_hash, reachable, last_heartbeat, created_at, updated_at
		FROM nodes ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		node, err := scanNodeRows(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// SetNodeReachable updates the durable reachability flag and heartbeat
// timestamp. Returns ErrNotFound if the node record no longer exists.
func (s *SQLiteStore) SetNodeReachable(ctx context.Context, id string, reachable bool, heartbeat time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET reachable = ?, last_heartbeat = ?, updated_at = ?
		WHERE id = ?
	`,
		boolToInt(reachable),
		heartbeat.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating node reachability: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("node reachability updated", "id", id, "reachable", reachable)
	return nil
}

// RotateNodeCredential replaces the node's credential hash, invalidating the
// old credential immediately.
func (s *SQLiteStore) RotateNodeCredential(ctx context.Context, id, newHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET token_hash = ?, updated_at = ? WHERE id = ?
	`, newHash, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("rotating node credential: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("node credential rotated", "id", id)
	return nil
}

// DeleteNode removes a node record. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteNode(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeFrom(scanner rowScanner) (*Node, error) {
	var node Node
	var reachable int
	var heartbeat sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&node.ID,
		&node.Name,
		&node.TokenHash,
		&reachable,
		&heartbeat,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning node: %w", err)
	}

	node.Reachable = reachable != 0
	if heartbeat.Valid {
		hb, err := time.Parse(time.RFC3339, heartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_heartbeat: %w", err)
		}
		node.LastHeartbeat = &hb
	}
	if node.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if node.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &node, nil
}

func scanNode(row *sql.Row) (*Node, error) {
	return scanNodeFrom(row)
}

func scanNodeRows(rows *sql.Rows) (*Node, error) {
	return scanNodeFrom(rows)
}
