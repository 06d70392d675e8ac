package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestNewLogger_Environments проверяет создание логгера для разных окружений
func TestNewLogger_Environments(t *testing.T) {
	for _, env := range []string{"dev", "staging", "prod"} {
		t.Run(env, func(t *testing.T) {
			log, err := NewLogger(env, "debug", "auth-service")
			require.NoError(t, err)
			require.NotNil(t, log)

			log.Info("test message")
			log.With(String("component", "test")).Debug("test message with field")
		})
	}
}

// TestNewLogger_UnknownLevel проверяет, что неизвестный уровень не ломает создание логгера
func TestNewLogger_UnknownLevel(t *testing.T) {
	log, err := NewLogger("prod", "verbose", "auth-service")
	require.NoError(t, err)
	assert.NotNil(t, log)
}

// TestLogger_FieldsReachCore проверяет, что поля доходят до zap core
func TestLogger_FieldsReachCore(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	log := NewFromZap(zap.New(core)).With(String("component", "limiter"))

	log.Warn("rate limit exceeded",
		String("key", "login:10.0.0.1:alice"),
		Int("limit", 5),
		Duration("retry_after", 30*time.Second),
		Error(errors.New("boom")),
	)

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "limiter", fields["component"])
	assert.Equal(t, "login:10.0.0.1:alice", fields["key"])
	assert.Equal(t, int64(5), fields["limit"])
	assert.Equal(t, "boom", fields["error"])
}

// TestLogger_CtxField проверяет создание поля с trace_id из контекста
func TestLogger_CtxField(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", CtxField(ctx).String)

	assert.Equal(t, "unknown", CtxField(context.Background()).String)
}

// TestError_Nil проверяет поле для nil ошибки
func TestError_Nil(t *testing.T) {
	assert.Equal(t, "nil", Error(nil).String)
}

// TestNewNop проверяет, что nop логгер безопасен в использовании
func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Error("ignored", Int("n", 1))
	assert.NoError(t, log.Sync())
}
