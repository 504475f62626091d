package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = &RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  time.Millisecond,
	Factor:     2,
	MaxDelay:   5 * time.Millisecond,
}

func alwaysRetry(error) bool { return true }
func neverRetry(error) bool  { return false }

func TestRetryWithBackoff_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testPolicy, func() error {
		calls++
		return nil
	}, alwaysRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_RetriesTransient(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testPolicy, func() error {
		calls++
		if calls < 3 {
			return errors.New("throttled")
		}
		return nil
	}, alwaysRetry)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_FatalStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("permission denied")
	err := RetryWithBackoff(context.Background(), testPolicy, func() error {
		calls++
		return fatal
	}, neverRetry)
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	calls := 0
	transient := errors.New("throttled")
	err := RetryWithBackoff(context.Background(), testPolicy, func() error {
		calls++
		return transient
	}, alwaysRetry)

	require.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, testPolicy.MaxRetries+1, calls)
}

func TestRetryWithBackoff_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	slow := &RetryPolicy{MaxRetries: 5, BaseDelay: time.Minute, Factor: 2, MaxDelay: time.Minute}

	err := RetryWithBackoff(ctx, slow, func() error {
		calls++
		cancel()
		return errors.New("throttled")
	}, alwaysRetry)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Bounded(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := testPolicy.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, testPolicy.MaxDelay)
	}
}
