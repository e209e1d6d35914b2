// Package resilience provides the bounded-retry helper used by the parent
// progress rollup (and any other in-process retry loop) to absorb
// VersionMismatch conflicts without blocking locks.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RetryPolicy bounds the rollup's retry loop per section 5: up to
// MaxAttempts attempts with small randomized backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRollupPolicy matches the spec's suggested "up to 8 attempts with
// small randomized backoff".
func DefaultRollupPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 8, BaseDelay: 10 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// Retry runs fn up to policy.MaxAttempts times, applying full-jitter
// exponential backoff between attempts, and stops immediately if ctx is
// cancelled or retryable returns false for the latest error. It returns the
// last error if every attempt is exhausted.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, counter metric.Int64Counter, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	cur := policy.BaseDelay
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if counter != nil {
			counter.Add(ctx, 1)
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		if cur > policy.MaxDelay {
			cur = policy.MaxDelay
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	return lastErr
}
