package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docvision/docvision/internal/entity"
)

func TestKeyCarriesVersionAndHash(t *testing.T) {
	key := Key("v3", "abc123")
	if key != "dv:rec:v3:abc123" {
		t.Fatalf("Key() = %q", key)
	}
	if !strings.HasPrefix(key, keyPrefix) {
		t.Fatalf("key %q missing prefix %q", key, keyPrefix)
	}
}

func TestRecordCacheRoundTrip(t *testing.T) {
	c := newTestRecordCache(t, NewMemoryStore())
	rec := newTestRecord(t, "hash-a", "v1")

	c.Put(context.Background(), rec)

	got, ok := c.Get(context.Background(), "hash-a", "v1")
	if !ok {
		t.Fatal("Get() missed a record that was just written")
	}
	if !entity.Equivalent(got, rec) {
		t.Fatalf("cached record differs:\ngot  %+v\nwant %+v", got, rec)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt lost in round trip")
	}
}

func TestRecordCacheVersionIsolation(t *testing.T) {
	c := newTestRecordCache(t, NewMemoryStore())
	c.Put(context.Background(), newTestRecord(t, "hash-a", "v1"))

	if _, ok := c.Get(context.Background(), "hash-a", "v2"); ok {
		t.Fatal("record written for v1 must not be visible under v2")
	}
	if _, ok := c.Get(context.Background(), "hash-a", "v1"); !ok {
		t.Fatal("record should still be visible under its own version")
	}
}

func TestRecordCacheMiss(t *testing.T) {
	c := newTestRecordCache(t, NewMemoryStore())
	if _, ok := c.Get(context.Background(), "nope", "v1"); ok {
		t.Fatal("Get() reported a hit on an empty store")
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Fatalf("Stats() = %+v, want one miss", stats)
	}
}

func TestRecordCacheGetDegradesOnBackendError(t *testing.T) {
	store := &mockStore{
		getFn: func(context.Context, string) ([]byte, error) {
			return nil, errors.New("connection refused")
		},
	}
	c := newTestRecordCache(t, store)

	if _, ok := c.Get(context.Background(), "hash-a", "v1"); ok {
		t.Fatal("backend error must read as a miss")
	}
	if stats := c.Stats(); stats.Errors != 1 {
		t.Fatalf("Stats() = %+v, want one error", stats)
	}
}

func TestRecordCacheGetDegradesOnGarbage(t *testing.T) {
	store := &mockStore{
		getFn: func(context.Context, string) ([]byte, error) {
			return []byte("{not json"), nil
		},
	}
	c := newTestRecordCache(t, store)

	if _, ok := c.Get(context.Background(), "hash-a", "v1"); ok {
		t.Fatal("undecodable payload must read as a miss")
	}
}

func TestRecordCachePutSwallowsBackendError(t *testing.T) {
	store := &mockStore{
		setFn: func(context.Context, string, []byte) error {
			return errors.New("disk full")
		},
	}
	c := newTestRecordCache(t, store)

	// Must not panic or surface the error.
	c.Put(context.Background(), newTestRecord(t, "hash-a", "v1"))
	if stats := c.Stats(); stats.Errors != 1 {
		t.Fatalf("Stats() = %+v, want one error", stats)
	}
}

func TestRecordCachePutIgnoresNilAndUnhashed(t *testing.T) {
	calls := 0
	store := &mockStore{
		setFn: func(context.Context, string, []byte) error {
			calls++
			return nil
		},
	}
	c := newTestRecordCache(t, store)

	c.Put(context.Background(), nil)
	c.Put(context.Background(), newTestRecord(t, "", "v1"))
	if calls != 0 {
		t.Fatalf("Set called %d times, want 0", calls)
	}
}

func TestRecordCacheStatsCountHits(t *testing.T) {
	c := newTestRecordCache(t, NewMemoryStore())
	rec := newTestRecord(t, "hash-a", "v1")
	c.Put(context.Background(), rec)

	for i := 0; i < 3; i++ {
		if _, ok := c.Get(context.Background(), "hash-a", "v1"); !ok {
			t.Fatal("unexpected miss")
		}
	}
	if stats := c.Stats(); stats.Hits != 3 {
		t.Fatalf("Stats() = %+v, want 3 hits", stats)
	}
}
