// Package async runs document analyses on a bounded worker pool. Batch
// runs enqueue scanned files and let the workers chew through them.
package async

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
)

// Job is one document queued for analysis.
type Job struct {
	ID          uuid.UUID
	Path        string
	SubmittedAt time.Time
}

// ProcessFunc handles one job. Errors are logged, not propagated; a batch
// keeps going when single documents fail.
type ProcessFunc func(ctx context.Context, job Job) error

type Queue struct {
	process ProcessFunc
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(process ProcessFunc, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		process: process,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					err := q.process(ctx, job)
					cancel()

					if err != nil {
						q.logger.Error("processing failed",
							"worker_id", workerID, "job_id", job.ID, "path", job.Path, "error", err)
					} else {
						q.logger.Info("processed document",
							"worker_id", workerID, "job_id", job.ID, "path", job.Path)
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue adds a job, blocking when the buffer is full. Jobs submitted
// after Shutdown are dropped with a warning.
func (q *Queue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.ID, "path", job.Path)
		return nil
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued document", "job_id", job.ID, "path", job.Path)
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", job.ID, "path", job.Path)
		q.ch <- job
	}
	return nil
}

// Shutdown stops intake and waits for in-flight jobs to drain, or for ctx.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
