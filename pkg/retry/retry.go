// Package retry provides the bounded loops the session layer is built on:
// exponential backoff for connection setup, polling for conditions, and
// verified retries for commands.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/promptgraph/pkg/domain"
)

// Config holds retry configuration.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Clock        Clock
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithInitialDelay sets the initial delay between retries.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		c.InitialDelay = d
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MaxDelay = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		c.Multiplier = m
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func newConfig(opts []Option) *Config {
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Clock:        SystemClock,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithBackoff executes the operation with exponential backoff retry.
// It retries the operation up to MaxRetries times, with exponentially increasing
// delays between attempts. Context cancellation is respected throughout.
//
// Errors wrapped with Fatal() are not retried.
func WithBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := newConfig(opts)

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFatal(err) {
			return fmt.Errorf("fatal error (not retrying): %w", err)
		}

		if attempt < cfg.MaxRetries {
			if err := cfg.Clock.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, err)
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries+1, lastErr)
}

// FatalError wraps an error to mark it as fatal (non-retryable).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks an error as fatal (non-retryable).
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal checks if an error is fatal (non-retryable).
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}

// Predicate is polled by WaitUntil. An error stops polling immediately.
type Predicate func(ctx context.Context) (bool, error)

// WaitUntil polls predicate every step until it returns true.
// Polling stops with *domain.PollTimeoutError once the next poll would start after timeout.
func WaitUntil(ctx context.Context, predicate Predicate, timeout, step time.Duration, opts ...Option) error {
	clock := newConfig(opts).Clock
	deadline := clock.Now().Add(timeout)

	for attempts := 1; ; attempts++ {
		ok, err := predicate(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if clock.Now().Add(step).After(deadline) {
			return &domain.PollTimeoutError{Timeout: timeout, Attempts: attempts}
		}
		if err := clock.Sleep(ctx, step); err != nil {
			return err
		}
	}
}

// Bounds limits a verified retry loop. Both limits apply; whichever is hit first ends the loop.
type Bounds struct {
	// RetryCount is the maximum number of attempts. Zero or less leaves only the time bound.
	RetryCount int
	// Interval is the pause between attempts.
	Interval time.Duration
	// TimeoutTotal bounds the elapsed time. An attempt is not started if it would begin after it.
	TimeoutTotal time.Duration
}

// Outcome reports how a bounded loop ended.
type Outcome struct {
	Attempts int
	Done     bool
	Elapsed  time.Duration
}

// Attempt calls fn until it reports done or the bounds are exhausted.
// between runs after each unsuccessful attempt that will be followed by another,
// before the pause. Errors from fn or between end the loop immediately.
func Attempt(ctx context.Context, b Bounds, fn func(attempt int) (bool, error), between func(attempt int) error, opts ...Option) (Outcome, error) {
	clock := newConfig(opts).Clock
	start := clock.Now()
	out := Outcome{}

	for attempt := 1; ; attempt++ {
		done, err := fn(attempt)
		out.Attempts = attempt
		out.Elapsed = clock.Now().Sub(start)
		if err != nil {
			return out, err
		}
		if done {
			out.Done = true
			return out, nil
		}

		if b.RetryCount > 0 && attempt >= b.RetryCount {
			return out, nil
		}
		if b.RetryCount <= 0 && b.TimeoutTotal <= 0 {
			return out, nil
		}
		if b.TimeoutTotal > 0 && out.Elapsed+b.Interval > b.TimeoutTotal {
			return out, nil
		}

		if between != nil {
			if err := between(attempt); err != nil {
				return out, err
			}
		}
		if err := clock.Sleep(ctx, b.Interval); err != nil {
			return out, err
		}
	}
}

// TryBestEffort runs fn and logs a failure instead of returning it.
// It is meant for cleanup steps whose failure must not mask the primary outcome.
func TryBestEffort(logger *slog.Logger, what string, fn func() error) bool {
	if err := fn(); err != nil {
		logger.Warn("best-effort step failed", "step", what, "err", err)
		return false
	}
	return true
}
