// Package sqlitestore backs the record cache with a local SQLite file.
// Suited to the batch CLI and single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docvision/docvision/internal/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_records (
	cache_key  TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL
);`

// Store implements cache.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

// New opens (and if needed creates) the database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM pipeline_records WHERE cache_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return payload, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_records (cache_key, payload, created_at)
VALUES (?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
	payload    = excluded.payload,
	created_at = excluded.created_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
