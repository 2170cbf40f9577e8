// Package retry runs an operation under a bounded attempt budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class names an independently budgeted category of retryable operation.
type Class string

const (
	ClassModel      Class = "model"
	ClassScreenshot Class = "screenshot"
	ClassExecute    Class = "execute"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid retry config")

// Config bounds the attempts of one operation class.
type Config struct {
	// MaxRetries is the total number of attempts, at least 1.
	MaxRetries int
	// OnRetry is called after each failed attempt that will be retried. A
	// non-nil return replaces the failure and stops retrying.
	OnRetry func(err error, attempt int) error
	// NewBackoff builds the wait schedule between attempts for one call. Nil
	// retries immediately.
	NewBackoff func() backoff.BackOff
}

// Validate checks the attempt budget.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	return nil
}

// Exponential returns a NewBackoff function for an exponential schedule with
// jitter, starting at initial and capped at max between attempts.
func Exponential(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		// The attempt budget bounds the call, not wall time.
		b.MaxElapsedTime = 0
		return b
	}
}

// ExhaustedError reports that every attempt of an operation failed. It wraps
// the last failure unchanged.
type ExhaustedError struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, the attempt budget is spent, the retry hook
// fails or ctx is done. It returns fn's value and the number of attempts made.
// A cancelled context is returned as is so callers can tell cancellation apart
// from exhaustion.
func Do[T any](ctx context.Context, class Class, cfg Config, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T

	maxAttempts := cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff
	if cfg.NewBackoff != nil {
		b = cfg.NewBackoff()
		b.Reset()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, attempt, ctxErr
		}

		if attempt >= maxAttempts {
			return zero, attempt, &ExhaustedError{Class: class, Attempts: attempt, Err: err}
		}

		var wait time.Duration
		if b != nil {
			wait = b.NextBackOff()
			if wait == backoff.Stop {
				return zero, attempt, &ExhaustedError{Class: class, Attempts: attempt, Err: err}
			}
		}

		if cfg.OnRetry != nil {
			if hookErr := cfg.OnRetry(err, attempt); hookErr != nil {
				return zero, attempt, fmt.Errorf("%s retry hook: %w", class, hookErr)
			}
		}

		if b == nil {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
