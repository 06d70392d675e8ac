package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnect_Success проверяет подключение к miniredis
func TestConnect_Success(t *testing.T) {
	server := miniredis.RunT(t)

	config := NewConfig()
	config.Addr = server.Addr()
	config.MaxRetries = 0

	client, err := Connect(context.Background(), config)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.HealthCheck(context.Background()))
}

// TestConnect_Unreachable проверяет ошибку после исчерпания попыток
func TestConnect_Unreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	config := NewConfig()
	config.Addr = addr
	config.MaxRetries = 1
	config.RetryInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, config)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

// TestHealthCheck проверяет health check без инициализированного клиента
func TestHealthCheck(t *testing.T) {
	client := &Client{}

	assert.Error(t, client.HealthCheck(context.Background()))
	assert.NoError(t, client.Close())
}

// TestHealthCheck_ServerDown проверяет health check после остановки сервера
func TestHealthCheck_ServerDown(t *testing.T) {
	server := miniredis.RunT(t)

	config := NewConfig()
	config.Addr = server.Addr()
	config.MaxRetries = 0

	client, err := Connect(context.Background(), config)
	require.NoError(t, err)
	defer client.Close()

	server.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}

// TestNewConfig проверяет создание конфигурации по умолчанию
func TestNewConfig(t *testing.T) {
	config := NewConfig()

	assert.Equal(t, "localhost:6379", config.Addr)
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.RetryInterval)
}
