package rpc

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the exponential backoff schedule
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// DefaultRetryConfig returns the schedule used for log fetching
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}
}

// Delay computes the backoff before the given attempt (1-based). The base
// doubles per attempt, capped at MaxDelay, then scaled by a random factor
// in [1-jitter, 1+jitter] so concurrent workers do not retry in lockstep.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(c.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && backoff > max {
		backoff = max
	}
	if c.JitterFraction > 0 {
		span := backoff * c.JitterFraction
		backoff = backoff - span + rand.Float64()*2*span
	}
	return time.Duration(backoff)
}

// WithRetry runs op until it succeeds, returns a non-retryable error, the
// attempt budget is exhausted, or ctx is cancelled. The last error is
// returned when all attempts fail.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}
