package s3client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithRetryRetriesOnRetryableError(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	err := withRetry(context.Background(), policy, true, func() error {
		attempts++
		if attempts < 3 {
			return errors.Join(errors.New("boom"), errRetryable)
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetryDoesNotRetryNonRetryableError(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	err := withRetry(context.Background(), policy, true, func() error {
		attempts++
		return errors.New("not retryable")
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestWithRetrySkipsRetryWhenDisabled(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), RetryPolicy{}, false, func() error {
		attempts++
		return errors.Join(errors.New("boom"), errRetryable)
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
