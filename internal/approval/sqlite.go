package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface assertion.
var _ GrantStore = (*SQLiteGrantStore)(nil)

// SQLiteGrantStore persists always grants in a SQLite database under the
// data directory, so user-remembered approvals survive restarts.
type SQLiteGrantStore struct {
	db *sql.DB
}

// NewSQLiteGrantStore opens (and if needed creates) the grant database.
func NewSQLiteGrantStore(path string) (*SQLiteGrantStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open grant database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to grant database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approval_grants (
			scope_key      TEXT NOT NULL,
			integration_id TEXT NOT NULL,
			capability     TEXT NOT NULL,
			mode           TEXT NOT NULL,
			granted_at     TIMESTAMP NOT NULL,
			PRIMARY KEY (scope_key, integration_id, capability)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create grants table: %w", err)
	}

	return &SQLiteGrantStore{db: db}, nil
}

// Load returns all persisted grants.
func (s *SQLiteGrantStore) Load() ([]Grant, error) {
	rows, err := s.db.Query(`
		SELECT scope_key, integration_id, capability, mode, granted_at
		FROM approval_grants
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var mode string
		if err := rows.Scan(&g.ScopeKey, &g.IntegrationID, &g.Capability, &mode, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Mode = Mode(mode)
		grants = append(grants, g)
	}

	return grants, rows.Err()
}

// Put inserts or replaces a grant.
func (s *SQLiteGrantStore) Put(g Grant) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO approval_grants
			(scope_key, integration_id, capability, mode, granted_at)
		VALUES (?, ?, ?, ?, ?)
	`, g.ScopeKey, g.IntegrationID, g.Capability, string(g.Mode), g.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to persist grant: %w", err)
	}
	return nil
}

// Delete removes one grant.
func (s *SQLiteGrantStore) Delete(scopeKey, integrationID, capability string) error {
	_, err := s.db.Exec(`
		DELETE FROM approval_grants
		WHERE scope_key = ? AND integration_id = ? AND capability = ?
	`, scopeKey, integrationID, capability)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

// Clear removes grants for a scope, or every grant when scopeKey is
// empty.
func (s *SQLiteGrantStore) Clear(scopeKey string) error {
	var err error
	if scopeKey == "" {
		_, err = s.db.Exec(`DELETE FROM approval_grants`)
	} else {
		_, err = s.db.Exec(`DELETE FROM approval_grants WHERE scope_key = ?`, scopeKey)
	}
	if err != nil {
		return fmt.Errorf("failed to clear grants: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteGrantStore) Close() error {
	return s.db.Close()
}
