// Package retry provides bounded retries for single ledger calls and an
// unbounded capped backoff for the mining loop.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/bardlex/gomint/pkg/errors"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// LedgerConfig returns the policy used for read-only contract calls. It is
// kept short: the mining loop restarts the whole cycle on failure anyway.
func LedgerConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// DatabaseConfig returns retry configuration for the history and cache stores
func DatabaseConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Do executes a function with retry logic
func Do(ctx context.Context, config *Config, fn RetryableFunc) error {
	_, err := DoWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function with retry logic and returns a result.
// Non-retryable errors are returned as is; exhausting the attempts wraps the
// last error.
func DoWithResult[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if config == nil {
		config = DefaultConfig()
	}

	for attempt := range config.MaxAttempts {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(config.calculateDelay(attempt)):
		}
	}

	se := errors.Wrap(lastErr, errors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts)
	// keep the cause's classification so callers above can retry the cycle
	se.Retryable = true
	return zero, se
}

// calculateDelay calculates the delay for the given attempt using exponential backoff
func (c *Config) calculateDelay(attempt int) time.Duration {
	return delayFor(c.BaseDelay, c.MaxDelay, c.Multiplier, c.Jitter, attempt)
}

func delayFor(base, maxDelay time.Duration, multiplier float64, jitter bool, attempt int) time.Duration {
	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	delay = min(delay, float64(maxDelay))

	if jitter {
		// up to 10% on top, still capped
		delay = min(delay+delay*0.1*rand.Float64(), float64(maxDelay))
	}

	return time.Duration(delay)
}

// Backoff is an attempt-unbounded exponential backoff. It never gives up;
// the delay grows from Base to Max and stays there until Reset.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool

	attempt  int
	failures int
}

// NewBackoff returns a Backoff doubling from base up to max with jitter.
func NewBackoff(base, maxDelay time.Duration) *Backoff {
	return &Backoff{
		Base:       base,
		Max:        maxDelay,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := delayFor(b.Base, b.Max, b.Multiplier, b.Jitter, b.attempt)
	b.failures++
	// stop growing the exponent once capped
	if d < b.Max {
		b.attempt++
	}
	return d
}

// Attempts returns the number of consecutive failures recorded.
func (b *Backoff) Attempts() int {
	return b.failures
}

// Reset starts the next failure streak from Base again.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.failures = 0
}

// Wait sleeps for Next() or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
