// Package retry runs pool creation and remote transport calls with
// exponential backoff. Mapping and session code never retries on its own.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, +/- share of the delay
	MaxSameErrorType int     // consecutive failures of one kind before giving up early
}

// DefaultConfig returns the settings used for pool creation and peer calls:
// 3 retries from 100ms, doubling, capped at 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// backoff waits for the current delay and grows it. It returns the context
// error when ctx ends first.
func (c *Config) backoff(ctx context.Context, delay *time.Duration) error {
	select {
	case <-time.After(applyJitter(*delay, c.JitterFactor)):
		*delay = time.Duration(float64(*delay) * c.Multiplier)
		if *delay > c.MaxDelay {
			*delay = c.MaxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes fn until it succeeds or the retries are spent, returning the
// last error.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that produce a value, such as
// pgxpool.NewWithConfig. The last result is returned even on error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if attempt < cfg.MaxRetries {
			if err := cfg.backoff(ctx, &delay); err != nil {
				return result, err
			}
		}
	}
	return result, lastErr
}

// RetryableError lets an error state its own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"network is unreachable",
	"server closed",
	"unexpected eof",
	"429",
	"502",
	"503",
	"504",
	"service unavailable",
	"too many requests",
}

// IsRetryable reports whether an error is transient: either it says so
// through RetryableError, or its text matches a known connection or
// gateway failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r, ok := err.(RetryableError); ok {
		return r.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// classifyErrorType groups errors so repeated failures of one kind can be
// detected.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"503", "502", "504", "429"} {
		if strings.Contains(msg, code) {
			return code
		}
	}
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return "connection"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(msg, "deadlock"):
		return "deadlock"
	}
	return "unknown"
}

// DoIfRetryable retries only transient errors. Permanent errors return at
// once, and MaxSameErrorType consecutive failures of one kind are escalated
// to a permanent failure.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay
	sameErrorCount := 0
	var lastErrorType string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}

		kind := classifyErrorType(err)
		if kind == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, kind, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = kind
		}

		if attempt < cfg.MaxRetries {
			if err := cfg.backoff(ctx, &delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}
