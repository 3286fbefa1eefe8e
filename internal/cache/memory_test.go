package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryStoreReadYourWrite(t *testing.T) {
	s := NewMemoryStore()

	if err := s.Set(context.Background(), "k", []byte("v1")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get() = %q, want v1", got)
	}

	if err := s.Set(context.Background(), "k", []byte("v2")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, _ = s.Get(context.Background(), "k")
	if string(got) != "v2" {
		t.Fatalf("Get() after overwrite = %q, want v2", got)
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get() error = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	value := []byte("original")
	if err := s.Set(context.Background(), "k", value); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value[0] = 'X'

	got, _ := s.Get(context.Background(), "k")
	if string(got) != "original" {
		t.Fatalf("stored value was aliased: %q", got)
	}

	got[0] = 'Y'
	again, _ := s.Get(context.Background(), "k")
	if string(again) != "original" {
		t.Fatalf("returned value was aliased: %q", again)
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%4))
			_ = s.Set(context.Background(), key, []byte{byte(n)})
			_, _ = s.Get(context.Background(), key)
		}(i)
	}
	wg.Wait()
	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}
}
