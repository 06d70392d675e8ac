package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retries []int

	config := fastConfig(5)
	config.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	}

	err := WithRetry(context.Background(), config, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not ready")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	cause := errors.New("connection refused")
	calls := 0

	err := WithRetry(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := fastConfig(10)
	config.InitialDelay = time.Hour
	config.MaxDelay = time.Hour
	config.OnRetry = func(int, time.Duration, error) { cancel() }

	err := WithRetry(ctx, config, func(context.Context) error {
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	config := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, calculateDelay(1, config))
	assert.Equal(t, 2*time.Second, calculateDelay(2, config))
	assert.Equal(t, 4*time.Second, calculateDelay(3, config))
	assert.Equal(t, 5*time.Second, calculateDelay(4, config))
}

func TestAddJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		delay := addJitter(time.Second)
		assert.GreaterOrEqual(t, delay, 750*time.Millisecond)
		assert.LessOrEqual(t, delay, 1250*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), addJitter(0))
}
