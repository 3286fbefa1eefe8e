package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/docvision/docvision/internal/cache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "dv:rec:v1:abc", []byte(`{"content_hash":"abc"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, "dv:rec:v1:abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"content_hash":"abc"}` {
		t.Fatalf("Get() = %q", got)
	}
}

func TestStoreMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, cache.ErrKeyNotFound) {
		t.Fatalf("Get() error = %v, want ErrKeyNotFound", err)
	}
}

func TestStoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("first")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Get() = %q, want second", got)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Set(ctx, "k", []byte("persisted")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("Get() = %q, want persisted", got)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}

func TestStorePing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
