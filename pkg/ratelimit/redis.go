package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Скрипт атомарно чистит окно, считает попытки и при наличии места записывает новую.
// KEYS[1] ключ, ARGV: now_ms, window_ms, max, member
var checkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter распределенный лимитер на sorted set в Redis
//
// Ключи живут не дольше окна, поэтому Cleanup ничего не делает
type RedisLimiter struct {
	client *redis.Client
	config Config
	prefix string
	now    func() time.Time
}

// NewRedisLimiter создает лимитер поверх клиента go-redis
func NewRedisLimiter(client *redis.Client, config Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		config: config.withDefaults(),
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// WithClock подменяет источник времени, нужен для тестов
func (r *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	r.now = now
	return r
}

// CheckLimit записывает попытку, если лимит не исчерпан
func (r *RedisLimiter) CheckLimit(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	allowed, err := checkScript.Run(ctx, r.client, []string{r.prefix + key},
		now, r.config.Window.Milliseconds(), r.config.MaxAttempts, member).Int()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return allowed == 1, nil
}

// RemainingAttempts возвращает количество оставшихся попыток
func (r *RedisLimiter) RemainingAttempts(ctx context.Context, key string) (int, error) {
	count, err := r.client.ZCount(ctx, r.prefix+key, r.windowStart(), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	remaining := r.config.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TimeUntilReset возвращает время до истечения самой старой попытки
func (r *RedisLimiter) TimeUntilReset(ctx context.Context, key string) (time.Duration, bool, error) {
	oldest, err := r.client.ZRangeByScoreWithScores(ctx, r.prefix+key, &redis.ZRangeBy{
		Min:   r.windowStart(),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read oldest attempt: %w", err)
	}
	if len(oldest) == 0 {
		return 0, false, nil
	}

	expiresAt := time.UnixMilli(int64(oldest[0].Score)).Add(r.config.Window)
	wait := expiresAt.Sub(r.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true, nil
}

// Reset удаляет все попытки по ключу
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// Cleanup не требуется, ключи истекают по TTL
func (r *RedisLimiter) Cleanup(context.Context) error {
	return nil
}

// windowStart нижняя граница окна, исключительная: попытка ровно на границе уже устарела
func (r *RedisLimiter) windowStart() string {
	return "(" + strconv.FormatInt(r.now().UnixMilli()-r.config.Window.Milliseconds(), 10)
}
