// Package retry wraps operations in an exponential backoff envelope that
// respects the pipeline's error classification.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
)

// Config shapes the backoff schedule. MaxRetries counts additional attempts
// after the first.
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultConfig matches the stock envelope used across the pipeline.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	return c
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or ctx is cancelled. Non-retryable failures are returned
// immediately without sleeping.
func Do[T any](ctx context.Context, operation string, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = cfg.Multiplier

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		res, err := fn()
		if err != nil && !embederr.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		metrics.RecordRetry(operation)
		logging.Op().Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"next_in", next,
			"error", err)
	}

	res, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if attempt > 1 {
			logging.Op().Warn("operation failed after retries",
				"operation", operation, "attempts", attempt, "error", err)
		}
		var zero T
		return zero, err
	}

	if attempt > 1 {
		logging.Op().Debug("operation succeeded after retries",
			"operation", operation, "attempts", attempt)
	}
	return res, nil
}
