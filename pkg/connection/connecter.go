package connection

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig содержит конфигурацию повторных попыток
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// OnRetry вызывается перед ожиданием очередной попытки, может быть nil
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryFunc представляет функцию для повторной попытки
type RetryFunc func(ctx context.Context) error

// WithRetry выполняет функцию с экспоненциальной задержкой между попытками
func WithRetry(ctx context.Context, config RetryConfig, operation RetryFunc) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, config)
		if config.OnRetry != nil {
			config.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// calculateDelay вычисляет задержку для retry
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
	}

	result := time.Duration(delay)
	if config.MaxDelay > 0 && result > config.MaxDelay {
		result = config.MaxDelay
	}

	if config.Jitter {
		result = addJitter(result)
	}

	return result
}

// addJitter добавляет случайную вариацию ±25% к задержке
func addJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	spread := float64(delay) * 0.25
	return delay + time.Duration(spread*(2*rand.Float64()-1))
}
