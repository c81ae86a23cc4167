package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond)}, opts...)...)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fast().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBoom)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAndUnwraps(t *testing.T) {
	var retried []int
	calls := 0
	err := fast(WithMaxAttempts(2), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	})).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errBoom)
	})

	assert.Same(t, errBoom, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retried)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := fast(WithRetryIf(func(error) bool { return true })).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errBoom)
	})

	assert.Same(t, errBoom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_UnmarkedErrorIsNotRetriedByDefault(t *testing.T) {
	calls := 0
	err := fast().Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fast().Do(ctx, func(context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithCancel(context.Background())
	err = New(WithInitialDelay(time.Hour), WithMaxDelay(time.Hour)).Do(ctx, func(context.Context) error {
		cancel()
		return Retryable(errBoom)
	})
	assert.Same(t, errBoom, err)
}

func TestBackoff(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second), WithJitter(0))

	assert.Equal(t, 100*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, r.Backoff(3))
	assert.Equal(t, time.Second, r.Backoff(10))

	j := New(WithInitialDelay(100*time.Millisecond), WithJitter(0.5))
	for i := 0; i < 50; i++ {
		d := j.Backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestMarkers(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.Nil(t, Permanent(nil))

	wrapped := errors.Join(errors.New("ctx"), Retryable(errBoom))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsPermanent(wrapped))
	assert.ErrorIs(t, Permanent(errBoom), errBoom)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, 4, WebhookRetrier().Policy().MaxAttempts)
	assert.Equal(t, time.Second, DatabaseRetrier().Policy().MaxDelay)
}
