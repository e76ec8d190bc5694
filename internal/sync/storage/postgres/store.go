// Package postgres provides the Postgres-backed sync store for multi-node
// deployments where several server replicas share one update log.
package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Store provides Postgres-backed persistence for the update log and the
// presence registry.
type Store struct {
	sqlDB *sql.DB

	// now is swappable in tests to pin append and heartbeat timestamps.
	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open connects to Postgres with the provided connection URL and ensures the
// sync schema exists before handing the store to higher layers.
func Open(databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: time.Now}
	if err := store.ensureSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying database handle.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS session_updates (
    session_id TEXT NOT NULL,
    seq BIGINT NOT NULL,
    update_type TEXT NOT NULL,
    updated_by TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_session_updates_author
    ON session_updates (session_id, updated_by, seq);

CREATE TABLE IF NOT EXISTS session_update_seq (
    session_id TEXT PRIMARY KEY,
    next_seq BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_presence (
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    color TEXT NOT NULL,
    is_dm BOOLEAN NOT NULL DEFAULT FALSE,
    cursor_x DOUBLE PRECISION NOT NULL DEFAULT 0,
    cursor_y DOUBLE PRECISION NOT NULL DEFAULT 0,
    joined_at BIGINT NOT NULL,
    last_seen BIGINT NOT NULL,
    PRIMARY KEY (session_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_session_presence_last_seen
    ON session_presence (session_id, last_seen);
`
	if _, err := s.sqlDB.Exec(schema); err != nil {
		return fmt.Errorf("create sync tables: %w", err)
	}
	return nil
}

func (s *Store) nowUTC() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}
