package ratelimit

import (
	"context"
	"time"
)

// Значения по умолчанию для попыток аутентификации
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = time.Minute
)

// Limiter интерфейс ограничителя частоты по ключу со скользящим окном
//
// Ключ произвольная строка, например "login:<ip>:<username>"
type Limiter interface {
	// CheckLimit возвращает true и записывает попытку, если лимит не исчерпан.
	// При исчерпанном лимите возвращает false и ничего не записывает
	CheckLimit(ctx context.Context, key string) (bool, error)
	// RemainingAttempts сколько попыток еще доступно в текущем окне
	RemainingAttempts(ctx context.Context, key string) (int, error)
	// TimeUntilReset через сколько освободится самая старая попытка. ok=false, если попыток нет
	TimeUntilReset(ctx context.Context, key string) (wait time.Duration, ok bool, err error)
	// Reset забывает все попытки по ключу
	Reset(ctx context.Context, key string) error
	// Cleanup удаляет устаревшие попытки и пустые ключи
	Cleanup(ctx context.Context) error
}

// Config параметры лимитера
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultConfig возвращает 5 попыток в минуту
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		Window:      DefaultWindow,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// RunCleanup периодически вызывает Cleanup до отмены контекста
//
// onError вызывается при ошибке очистки и может быть nil
func RunCleanup(ctx context.Context, limiter Limiter, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = DefaultWindow
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := limiter.Cleanup(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
