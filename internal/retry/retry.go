// Package retry runs an operation until it succeeds, backing off between
// attempts.
//
// It backs two kinds of loops: bounded retries of a flaky call, and open-ended
// polling for something that has not happened yet, such as a host process
// that has not been started.
//
//	cfg := retry.Config{
//	    InitialBackoff: 500 * time.Millisecond,
//	    MaxBackoff:     5 * time.Second,
//	}
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return findHost()
//	}, func(err error) bool {
//	    return errors.Is(err, backend.ErrProcessNotFound)
//	})
//
// # Backoff Strategy
//
// The wait before attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped at
// MaxBackoff. Setting MaxBackoff equal to InitialBackoff yields a fixed poll
// interval.
//
// # Context Cancellation
//
// Do returns the context error as soon as ctx is done, including while it is
// waiting between attempts. With MaxRetries of zero this is the only way an
// unsuccessful loop ends.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
type Config struct {
	// MaxRetries is the maximum number of attempts. Zero means unlimited.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt. Must be greater
	// than 0.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to this fraction of the backoff (0.0 to 1.0). With a
	// bounded MaxRetries the amount grows linearly with the attempt number.
	Jitter float64
}

// Unlimited reports whether cfg retries until the context is done.
func (cfg Config) Unlimited() bool {
	return cfg.MaxRetries <= 0
}

// ShouldRetryFunc reports whether an error from the operation is transient.
// A nil ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it returns nil, shouldRetry rejects its error, the
// attempts are exhausted, or ctx is done.
//
// When attempts run out the returned error wraps fn's last error.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; cfg.Unlimited() || attempt < cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 0 {
			timer := time.NewTimer(calculateBackoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// calculateBackoff computes the wait before the given attempt.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	// Keep the exponent small enough that the float conversion cannot overflow
	// during long unlimited polls.
	exp := math.Min(float64(attempt-1), 32)
	backoff := time.Duration(math.Pow(2, exp) * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && (backoff > cfg.MaxBackoff || backoff <= 0) {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 {
		scale := 1.0
		if !cfg.Unlimited() {
			scale = float64(attempt) / float64(cfg.MaxRetries)
		}
		backoff += time.Duration(float64(backoff) * cfg.Jitter * scale)
	}

	return backoff
}
