package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, config Config) (*RedisLimiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	return NewRedisLimiter(client, config).WithClock(clock.Now), mr, clock
}

func TestRedisLimiter_AllowsUpToMax(t *testing.T) {
	ctx := context.Background()
	limiter, _, clock := newTestRedisLimiter(t, DefaultConfig())

	for i := 0; i < DefaultMaxAttempts; i++ {
		allowed, err := limiter.CheckLimit(ctx, "login:10.0.0.1:alice")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
		clock.Advance(time.Second)
	}

	allowed, err := limiter.CheckLimit(ctx, "login:10.0.0.1:alice")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := limiter.RemainingAttempts(ctx, "login:10.0.0.1:alice")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestRedisLimiter_SameMillisecondAttemptsCountSeparately(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestRedisLimiter(t, Config{MaxAttempts: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		allowed, err := limiter.CheckLimit(ctx, "k")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := limiter.CheckLimit(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	ctx := context.Background()
	limiter, _, clock := newTestRedisLimiter(t, Config{MaxAttempts: 2, Window: time.Minute})

	_, err := limiter.CheckLimit(ctx, "k")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = limiter.CheckLimit(ctx, "k")
	require.NoError(t, err)

	allowed, err := limiter.CheckLimit(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)

	wait, ok, err := limiter.TimeUntilReset(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	clock.Advance(30 * time.Second)
	remaining, err := limiter.RemainingAttempts(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	allowed, err = limiter.CheckLimit(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiter_TimeUntilResetEmpty(t *testing.T) {
	limiter, _, _ := newTestRedisLimiter(t, DefaultConfig())

	_, ok, err := limiter.TimeUntilReset(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLimiter_KeyHasTTL(t *testing.T) {
	limiter, mr, _ := newTestRedisLimiter(t, DefaultConfig())

	_, err := limiter.CheckLimit(context.Background(), "k")
	require.NoError(t, err)

	assert.True(t, mr.Exists("ratelimit:k"))
	assert.Equal(t, DefaultWindow, mr.TTL("ratelimit:k"))

	mr.FastForward(DefaultWindow + time.Second)
	assert.False(t, mr.Exists("ratelimit:k"))
}

func TestRedisLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	limiter, mr, _ := newTestRedisLimiter(t, Config{MaxAttempts: 1, Window: time.Minute})

	_, err := limiter.CheckLimit(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, limiter.Reset(ctx, "k"))
	assert.False(t, mr.Exists("ratelimit:k"))

	remaining, err := limiter.RemainingAttempts(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	allowed, err := limiter.CheckLimit(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.NoError(t, limiter.Cleanup(ctx))
}

func TestRedisLimiter_UnavailableRedis(t *testing.T) {
	ctx := context.Background()
	limiter, mr, _ := newTestRedisLimiter(t, DefaultConfig())
	mr.Close()

	_, err := limiter.CheckLimit(ctx, "k")
	assert.Error(t, err)

	_, err = limiter.RemainingAttempts(ctx, "k")
	assert.Error(t, err)
}
