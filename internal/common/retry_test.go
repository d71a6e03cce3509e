package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/actual-sync/internal/service"
)

func fastRetryOpts() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return nil
	}, fastRetryOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastRetryOpts())

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return errors.New("persistent")
	}, fastRetryOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, calls)
}

func TestWithRetryNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	wrapped := &RetryableError{
		Err:       errors.New("bad credentials"),
		Retryable: false,
	}

	err := WithRetry(context.Background(), func() error {
		calls++
		return wrapped
	}, fastRetryOpts())

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors are never retried")

	var retryableErr *RetryableError
	require.ErrorAs(t, err, &retryableErr)
	assert.False(t, retryableErr.Retryable)
}

func TestWithRetryRetryableErrorIsRetried(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: errors.New("flaky"), Retryable: true}
	}, fastRetryOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, calls)
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	}, fastRetryOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithRetryAppliesDefaults(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return nil
	}, service.RetryOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryableErrorUnwrap(t *testing.T) {
	err := &RetryableError{
		Err:       ErrPaginationConflict,
		Retryable: false,
	}

	assert.ErrorIs(t, err, ErrPaginationConflict, "errors.Is sees through the wrapper")
	assert.Equal(t, ErrPaginationConflict.Error(), err.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "rate limit", err: ErrRateLimit, want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "plain error", err: errors.New("boom"), want: false},
		{
			name: "retryable wrapper",
			err:  &RetryableError{Err: errors.New("flaky"), Retryable: true},
			want: true,
		},
		{
			name: "non-retryable wrapper",
			err:  &RetryableError{Err: errors.New("fatal"), Retryable: false},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
