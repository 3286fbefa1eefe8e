// Package cache persists pipeline records keyed by content hash and
// pipeline version. The byte-level Store has memory, redis, sqlite and
// postgres implementations; RecordCache layers record semantics on top.
package cache

import (
	"context"
	"errors"
)

// ErrKeyNotFound reports a cache miss from a backend.
var ErrKeyNotFound = errors.New("cache: key not found")

// Store is the byte-level backend under the record cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}
