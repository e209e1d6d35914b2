package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	err := Retry(context.Background(), policy, func(error) bool { return true }, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("conflict")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	attempts := 0
	err := Retry(context.Background(), policy, func(error) bool { return true }, nil, func() error {
		attempts++
		return errors.New("still conflicting")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), DefaultRollupPolicy(), func(error) bool { return false }, nil, func() error {
		attempts++
		return errors.New("fatal")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	attempts := 0
	err := Retry(ctx, policy, func(error) bool { return true }, nil, func() error {
		attempts++
		return errors.New("conflict")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}
