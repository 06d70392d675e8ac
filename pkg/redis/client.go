package redis

import (
	"context"
	"fmt"
	"time"

	"DiaryPlatform/pkg/connection"

	"github.com/go-redis/redis/v8"
)

// Client представляет подключение к Redis
type Client struct {
	Client *redis.Client
}

// Config представляет конфигурацию Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	// Connection pool settings
	PoolSize    int
	MinIdleConn int
	// Retry settings
	MaxRetries    int
	RetryInterval time.Duration
	// Health check
	HealthCheck time.Duration
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig() *Config {
	return &Config{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		MinIdleConn:   2,
		MaxRetries:    3,
		RetryInterval: 1 * time.Second,
		HealthCheck:   30 * time.Second,
	}
}

func (c *Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConn,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		// Таймаут для получения соединения из пула
		PoolTimeout:        4 * time.Second,
		IdleCheckFrequency: c.HealthCheck,
	}
}

// Connect устанавливает подключение к Redis с retry логикой
func Connect(ctx context.Context, config *Config) (*Client, error) {
	retry := connection.RetryConfig{
		MaxAttempts:  config.MaxRetries + 1,
		InitialDelay: config.RetryInterval,
		MaxDelay:     10 * config.RetryInterval,
		Multiplier:   2,
		Jitter:       true,
	}

	var client *redis.Client
	err := connection.WithRetry(ctx, retry, func(ctx context.Context) error {
		candidate := redis.NewClient(config.options())
		if err := candidate.Ping(ctx).Err(); err != nil {
			candidate.Close()
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		client = candidate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// Close закрывает подключение к Redis
func (r *Client) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// HealthCheck проверяет состояние подключения к Redis
func (r *Client) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	return r.Client.Ping(ctx).Err()
}
