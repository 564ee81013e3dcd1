package embedder

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is a generic retry policy: exponential delay growth with
// random jitter, capped at MaxDelay. It carries no knowledge of what
// is being retried.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomized in both directions
}

// DefaultBackoff returns the standard policy for embedding calls.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.25,
	}
}

// Delay computes the sleep before the given retry attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.BaseDelay << uint(attempt)
	if delay > b.MaxDelay || delay <= 0 {
		delay = b.MaxDelay
	}
	if b.Jitter > 0 {
		spread := float64(delay) * b.Jitter
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*spread)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Retry runs op up to MaxAttempts times, sleeping between attempts.
// Errors for which retryable returns false are returned immediately.
// The sleep is context-aware.
func (b Backoff) Retry(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
