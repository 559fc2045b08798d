// Package storage persists permanent permission grants in an embedded
// sqlite database, so allow_always decisions survive process restarts.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/torii/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS grants (
	scope      TEXT PRIMARY KEY,
	decision   TEXT NOT NULL,
	granted_at TEXT NOT NULL
);`

// GrantStore is the durable store for allow_always grants, keyed by scope.
type GrantStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the grant database at path.
func Open(path string, logger *slog.Logger) (*GrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// A single writer keeps sqlite's locking model simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &GrantStore{db: db, logger: logger}, nil
}

// Put upserts a permanent grant for a scope.
func (s *GrantStore) Put(ctx context.Context, scope string, d model.Decision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("storage: marshal decision: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO grants (scope, decision, granted_at) VALUES (?, ?, ?)
		 ON CONFLICT(scope) DO UPDATE SET decision = excluded.decision, granted_at = excluded.granted_at`,
		scope, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: put grant: %w", err)
	}
	return nil
}

// All returns every stored grant keyed by scope. Rows that no longer parse
// (schema drift) are skipped with a warning rather than failing the load.
func (s *GrantStore) All(ctx context.Context) (map[string]model.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope, decision FROM grants`)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants: %w", err)
	}
	defer rows.Close()

	grants := make(map[string]model.Decision)
	for rows.Next() {
		var scope, raw string
		if err := rows.Scan(&scope, &raw); err != nil {
			return nil, fmt.Errorf("storage: scan grant: %w", err)
		}
		var d model.Decision
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.logger.Warn("storage: skipping unparseable grant", "scope", scope, "error", err)
			continue
		}
		grants[scope] = d
	}
	return grants, rows.Err()
}

// Delete removes a grant by scope. Deleting an absent scope is not an error.
func (s *GrantStore) Delete(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("storage: delete grant: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *GrantStore) Close() error {
	return s.db.Close()
}
