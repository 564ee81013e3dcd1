package embedder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrat/ragpipe/pkg/embedder"
)

func testBackoff() embedder.Backoff {
	return embedder.Backoff{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      0,
	}
}

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	b := embedder.Backoff{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 300*time.Millisecond, b.Delay(2))
	assert.Equal(t, 300*time.Millisecond, b.Delay(10))
}

func TestBackoff_DelayJitterStaysInBounds(t *testing.T) {
	b := embedder.Backoff{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      0.25,
	}

	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestBackoff_RetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := testBackoff().Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(error) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_RetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	wantErr := errors.New("still failing")
	err := testBackoff().Retry(context.Background(), func() error {
		attempts++
		return wantErr
	}, func(error) bool { return true })

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_RetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := testBackoff().Retry(context.Background(), func() error {
		attempts++
		return errors.New("fatal")
	}, func(error) bool { return false })

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_RetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testBackoff().Retry(ctx, func() error {
		return errors.New("never retried")
	}, func(error) bool { return true })

	assert.ErrorIs(t, err, context.Canceled)
}
