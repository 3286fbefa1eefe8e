package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// Defaults shared by the outbound stage clients.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
)

// Policy controls how often and how patiently an operation is retried.
// Backoff doubles per attempt, starting at BaseDelay and capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // extra random fraction of the delay, in [0, Jitter]
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      0.2,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do unwraps the marker and
// returns the original error after the first attempt that produces one.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It stops
// early when fn succeeds, when fn returns a Permanent error, or when ctx is
// done mid-backoff. The returned error is the last one fn produced.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			logger.Warn("retry.permanent", "op", op, "attempt", attempt, "error", perm.err)
			return perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		wait := delay
		if p.Jitter > 0 {
			wait += time.Duration(rand.Float64() * p.Jitter * float64(delay))
		}
		logger.Warn("retry.backoff",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	logger.Error("retry.exhausted", "op", op, "attempts", p.MaxAttempts, "error", lastErr)
	return lastErr
}
