// Package retry provides exponential backoff for idempotent operations.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Retryer runs fn until it succeeds, the attempts are exhausted or ctx ends.
type Retryer interface {
	Retry(ctx context.Context, fn func() error) error
}

// ExponentialBackoff retries with exponentially growing, jittered delays.
type ExponentialBackoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// NewExponentialBackoff returns a retryer with sensible defaults.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Retry executes fn with exponential backoff between failed attempts.
func (r *ExponentialBackoff) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.MaxRetries {
			break
		}

		delay := r.Delay(attempt)
		slog.DebugContext(ctx, "Retry attempt failed, waiting before next attempt",
			"attempt", attempt+1, "max_attempts", r.MaxRetries+1,
			"delay_ms", delay.Milliseconds(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", r.MaxRetries+1, lastErr)
}

// Delay returns the wait before the attempt following attempt (zero based).
func (r *ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter {
		// up to 25% on top
		delay += rand.Float64() * delay * 0.25
	}

	return time.Duration(delay)
}
