// Package retry provides a context-aware retry loop for calls to external
// dependencies. Transient failures are retried on the configured backoff
// schedule; permanent failures short-circuit.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/groundline/groundline/internal/backoff"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// Policy is the backoff schedule between attempts.
	Policy backoff.Policy
}

// Dependency is the standard configuration for external dependency calls:
// three retries after the initial attempt on the 100/400/1600 ms schedule.
func Dependency() Config {
	return Config{
		MaxAttempts: 4,
		Policy:      backoff.DependencyPolicy(),
	}
}

// Do executes op, retrying transient failures. The returned error is the
// last one observed; context cancellation aborts the wait immediately.
func Do(ctx context.Context, config Config, op func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		sleep := backoff.Compute(config.Policy, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, error) {
	var value T
	err := Do(ctx, config, func() error {
		var opErr error
		value, opErr = op()
		return opErr
	})
	return value, err
}

// PermanentError marks an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks whether an error chain carries the permanent marker.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
