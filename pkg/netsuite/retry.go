package netsuite

import (
	"context"
	"time"
)

// RetryPolicy defines the retry budget and backoff for retryable upstream
// failures. Backoff is linear: attempt n waits Delay x (n+1).
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DelayFor returns the backoff before the attempt following the given
// zero-based failed attempt. Exposed as a pure function so tests never sleep.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	return p.Delay * time.Duration(attempt+1)
}

// DefaultRetryPolicy returns the standard client retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// sleepContext waits for the duration or until the context is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
