// ABOUTME: SQLite persistence for managed server records.
// ABOUTME: Tracks server-to-node assignment and the tracked status value.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateServer inserts a new managed server record.
func (s *SQLiteStore) CreateServer(ctx context.Context, server *Server) error {
	if server.Status == "" {
		server.Status = ServerStatusUnknown
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	if server.UpdatedAt.IsZero() {
		server.UpdatedAt = server.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (id, name, node_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		server.ID,
		server.Name,
		server.NodeID,
		server.Status,
		server.CreatedAt.UTC().Format(time.RFC3339),
		server.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting server: %w", err)
	}

	s.logger.Debug("created server", "id", server.ID, "node_id", server.NodeID)
	return nil
}

// GetServer retrieves a server by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetServer(ctx context.Context, id string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, node_id, status, created_at, updated_at
		FROM servers WHERE id = ?
	`, id)
	return scanServer(row)
}

// ListServers returns all managed servers ordered by name.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]*Server, error) {
	return s.queryServers(ctx, `
		SELECT id, name, node_id, status, created_at, updated_at
		FROM servers ORDER BY name
	`)
}

// ListServersByNode returns the servers assigned to one node.
func (s *SQLiteStore) ListServersByNode(ctx context.Context, nodeID string) ([]*Server, error) {
	return s.queryServers(ctx, `
		SELECT id, name, node_id, status, created_at, updated_at
		FROM servers WHERE node_id = ? ORDER BY name
	`, nodeID)
}

func (s *SQLiteStore) queryServers(ctx context.Context, query string, args ...any) ([]*Server, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		server, err := scanServerFrom(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// SetServerStatus updates the tracked status. Both optimistic transitional
// updates (at dispatch time) and authoritative updates (from node events)
// land here; last write wins.
func (s *SQLiteStore) SetServerStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE servers SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating server status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("server status updated", "id", id, "status", status)
	return nil
}

func scanServerFrom(scanner rowScanner) (*Server, error) {
	var server Server
	var createdAt, updatedAt string

	err := scanner.Scan(
		&server.ID,
		&server.Name,
		&server.NodeID,
		&server.Status,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning server: %w", err)
	}

	if server.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if server.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &server, nil
}

func scanServer(row *sql.Row) (*Server, error) {
	return scanServerFrom(row)
}
