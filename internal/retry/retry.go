// Package retry runs an operation under an attempt budget with
// exponential backoff. Providers use it for transient API errors;
// errors wrapped with Permanent stop the loop immediately.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config tunes the retry loop.
type Config struct {
	// MaxAttempts is the total attempt budget, including the first.
	MaxAttempts int

	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// Factor is the per-attempt delay multiplier.
	Factor float64

	// Jitter randomizes each delay within [0.5x, 1.5x].
	Jitter bool
}

// DefaultConfig returns the retry budget providers use by default.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Result reports how a retry loop ended.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// Err is the last error; nil on success.
	Err error

	// Duration is the total wall time spent.
	Duration time.Duration
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 15 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
}

// Do runs op until it succeeds, the attempt budget is spent, the error
// is permanent, or the context ends.
func Do(ctx context.Context, cfg Config, op func() error) Result {
	cfg.normalize()
	start := time.Now()
	result := Result{}
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		err := op()
		result.Err = err
		if err == nil || IsPermanent(err) {
			break
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}
		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(sleep):
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, cfg, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error so the retry loop stops on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
