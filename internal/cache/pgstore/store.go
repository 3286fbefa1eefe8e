// Package pgstore backs the record cache with PostgreSQL for deployments
// where several pipeline nodes share one cache.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docvision/docvision/internal/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_records (
	cache_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

// Config holds connection parameters for the Postgres backend.
type Config struct {
	URL         string
	MaxConns    int32
	MinConns    int32
	DialTimeout time.Duration
}

// Store implements cache.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ cache.Store = (*Store)(nil)

// New connects to Postgres and ensures the records table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}

	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.ConnConfig.RuntimeParams["application_name"] = "docvision"

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM pipeline_records WHERE cache_key = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return payload, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pipeline_records (cache_key, payload, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (cache_key) DO UPDATE SET
	payload    = EXCLUDED.payload,
	created_at = EXCLUDED.created_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
