package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newJob(path string) Job {
	return Job{ID: uuid.New(), Path: path, SubmittedAt: time.Now().UTC()}
}

func TestQueueProcessesAllJobs(t *testing.T) {
	var processed atomic.Int32
	var mu sync.Mutex
	seen := map[string]bool{}

	q := NewQueue(func(ctx context.Context, job Job) error {
		processed.Add(1)
		mu.Lock()
		seen[job.Path] = true
		mu.Unlock()
		return nil
	}, nil, WithWorkers(3), WithQueueSize(8))

	const n = 20
	for i := 0; i < n; i++ {
		if err := q.Enqueue(context.Background(), newJob(fmt.Sprintf("doc-%d.png", i))); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Shutdown(context.Background())

	if got := processed.Load(); got != n {
		t.Errorf("processed = %d, want %d", got, n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Errorf("distinct paths = %d, want %d", len(seen), n)
	}
}

func TestQueueKeepsGoingAfterFailures(t *testing.T) {
	var processed atomic.Int32
	q := NewQueue(func(ctx context.Context, job Job) error {
		if processed.Add(1)%2 == 0 {
			return errors.New("boom")
		}
		return nil
	}, nil, WithWorkers(2))

	for i := 0; i < 10; i++ {
		_ = q.Enqueue(context.Background(), newJob("doc.png"))
	}
	q.Shutdown(context.Background())

	if got := processed.Load(); got != 10 {
		t.Errorf("processed = %d, want 10 (failures must not stop the pool)", got)
	}
}

func TestQueueEnqueueAfterShutdownDrops(t *testing.T) {
	var processed atomic.Int32
	q := NewQueue(func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	}, nil, WithWorkers(1))

	q.Shutdown(context.Background())
	if err := q.Enqueue(context.Background(), newJob("late.png")); err != nil {
		t.Fatalf("Enqueue after shutdown: %v", err)
	}

	if got := processed.Load(); got != 0 {
		t.Errorf("processed = %d, want 0 (job submitted after shutdown)", got)
	}
}

func TestQueueShutdownIdempotent(t *testing.T) {
	q := NewQueue(func(ctx context.Context, job Job) error { return nil }, nil, WithWorkers(1))
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())
}

func TestQueueAppliesProcessTimeout(t *testing.T) {
	errCh := make(chan error, 1)
	q := NewQueue(func(ctx context.Context, job Job) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}, nil, WithWorkers(1), WithProcessTimeout(10*time.Millisecond))

	_ = q.Enqueue(context.Background(), newJob("slow.pdf"))
	q.Shutdown(context.Background())

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("job ctx err = %v, want DeadlineExceeded", err)
		}
	default:
		t.Fatal("job never observed its deadline")
	}
}

func TestQueueBackpressureBlocksUntilDrained(t *testing.T) {
	var processed atomic.Int32
	q := NewQueue(func(ctx context.Context, job Job) error {
		time.Sleep(2 * time.Millisecond)
		processed.Add(1)
		return nil
	}, nil, WithWorkers(1), WithQueueSize(1))

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(context.Background(), newJob("doc.png")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Shutdown(context.Background())

	if got := processed.Load(); got != 5 {
		t.Errorf("processed = %d, want 5", got)
	}
}
