package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/docvision/docvision/internal/entity"
)

const keyPrefix = "dv:rec:"

// Key builds the storage key for a record. The pipeline version sits in
// the key, so bumping the version invalidates old entries by never
// looking at them again.
func Key(version, contentHash string) string {
	return keyPrefix + version + ":" + contentHash
}

// Stats is a point-in-time snapshot of cache traffic.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// RecordCache stores pipeline records in a byte-level Store. Backend
// failures degrade to misses and are logged, never surfaced: a broken
// cache must not break the pipeline.
type RecordCache struct {
	store  Store
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

func NewRecordCache(store Store, logger *slog.Logger) *RecordCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordCache{store: store, logger: logger}
}

// Get looks up the record for contentHash under version. The second
// return is false on miss, on backend error and on undecodable payloads.
func (c *RecordCache) Get(ctx context.Context, contentHash, version string) (*entity.PipelineRecord, bool) {
	key := Key(version, contentHash)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			c.misses.Add(1)
			return nil, false
		}
		c.errs.Add(1)
		c.logger.Warn("cache.get.degraded", "key", key, "error", err)
		return nil, false
	}

	var rec entity.PipelineRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache.get.undecodable", "key", key, "error", err)
		return nil, false
	}

	c.hits.Add(1)
	return &rec, true
}

// Put stores rec under its own hash and version. Errors are logged and
// swallowed; the caller already has the record.
func (c *RecordCache) Put(ctx context.Context, rec *entity.PipelineRecord) {
	if rec == nil || rec.ContentHash == "" {
		return
	}
	key := Key(rec.PipelineVersion, rec.ContentHash)

	data, err := json.Marshal(rec)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache.put.marshal_failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache.put.degraded", "key", key, "error", err)
		return
	}
	c.logger.Debug("cache.put.ok", "key", key, "bytes", len(data))
}

// Stats returns the traffic counters accumulated so far.
func (c *RecordCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
}

// Ping reports backend health.
func (c *RecordCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the backend.
func (c *RecordCache) Close() error {
	return c.store.Close()
}
