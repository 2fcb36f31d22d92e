// Package retry implements bounded exponential backoff for calls against
// flaky upstreams. Backends that return an explicit wait (HTTP 429 with
// Retry-After) can override the computed backoff through a delay hint.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config controls the retry loop.
type Config struct {
	MaxRetries        uint          // maximum retry attempts after the first call (default: 3)
	InitialBackoff    time.Duration // backoff before the first retry (default: 100ms)
	MaxBackoff        time.Duration // backoff ceiling (default: 2s)
	BackoffMultiplier float64       // growth factor per attempt (default: 2.0)
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the delay before the given 0-based retry attempt.
func (c Config) Backoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
	}
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Delayed wraps an error with a server-directed retry delay.
type Delayed struct {
	Err  error
	Hint time.Duration
}

func (d *Delayed) Error() string {
	return fmt.Sprintf("%v (retry after %s)", d.Err, d.Hint)
}

func (d *Delayed) Unwrap() error {
	return d.Err
}

// WithDelay attaches a server-directed delay hint to an error.
func WithDelay(err error, hint time.Duration) error {
	if err == nil {
		return nil
	}
	return &Delayed{Err: err, Hint: hint}
}

// DelayHint extracts a server-directed delay from the error chain.
func DelayHint(err error) (time.Duration, bool) {
	var d *Delayed
	if errors.As(err, &d) {
		return d.Hint, true
	}
	return 0, false
}

// Do runs fn, retrying while shouldRetry approves the returned error.
// Sleeps are context-aware; cancellation surfaces as ctx.Err(). The final
// error is returned wrapped with the attempt count.
func Do(ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= int(cfg.MaxRetries); attempt++ {
		if attempt > 0 {
			backoff := cfg.Backoff(attempt - 1)
			if hint, ok := DelayHint(lastErr); ok && hint > 0 {
				backoff = hint
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
