package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadConfig_DefaultValues проверяет загрузку значений по умолчанию
func TestLoadConfig_DefaultValues(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "postgres", config.Storage.Driver)
	assert.Equal(t, "diary-auth", config.Auth.Issuer)
	assert.Equal(t, "15m", config.Auth.TokenTTL)
	assert.Equal(t, 5, config.RateLimiting.MaxAttempts)
	assert.Equal(t, "1m", config.RateLimiting.Window)
	assert.Equal(t, "memory", config.RateLimiting.Backend)
	assert.Equal(t, 5, config.Lockout.Threshold)
	assert.Equal(t, "15m", config.Lockout.Duration)
	assert.Equal(t, "5m", config.SponsorCache.TTL)
	assert.False(t, config.RabbitMQ.Enabled)
	assert.Equal(t, "dev", config.Environment)
}

// TestLoadConfig_FileOverride проверяет переопределение значений по умолчанию значениями из YAML файла
func TestLoadConfig_FileOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", `server:
  host: "127.0.0.1"
  port: 9090
  shutdown_timeout: "5s"
  trusted_proxies:
    - "10.0.0.0/8"
storage:
  driver: "memory"
auth:
  issuer: "diary-test"
  private_key_path: "/keys/private.pem"
  token_ttl: "10m"
rate_limiting:
  backend: "redis"
  max_attempts: 3
  window: "30s"
  cleanup_interval: "15s"
lockout:
  threshold: 10
  duration: "1h"
sponsor_cache:
  ttl: "1m"
logger:
  level: "debug"
  format: "text"
environment: "prod"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, []string{"10.0.0.0/8"}, config.Server.TrustedProxies)
	assert.Equal(t, "memory", config.Storage.Driver)
	assert.Equal(t, "diary-test", config.Auth.Issuer)
	assert.Equal(t, "/keys/private.pem", config.Auth.PrivateKeyPath)
	// Не указанные в файле значения остаются по умолчанию
	assert.Equal(t, "keys/public.pem", config.Auth.PublicKeyPath)
	assert.Equal(t, "redis", config.RateLimiting.Backend)
	assert.Equal(t, 3, config.RateLimiting.MaxAttempts)
	assert.Equal(t, 10, config.Lockout.Threshold)
	assert.Equal(t, time.Hour, Duration(config.Lockout.Duration, 0))
	assert.Equal(t, "prod", config.Environment)
}

// TestLoadConfig_JSONFile проверяет загрузку конфигурации в формате JSON
func TestLoadConfig_JSONFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{"server":{"host":"10.0.0.1","port":8081},"storage":{"driver":"memory"},"environment":"staging"}`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", config.Server.Host)
	assert.Equal(t, 8081, config.Server.Port)
	assert.Equal(t, "staging", config.Environment)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.10"}, config.Server.TrustedProxies)
}

// TestLoadConfig_EnvironmentOverride проверяет переопределение значений переменными окружения
func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	t.Setenv("SERVER_HOST", "192.168.1.1")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DATABASE_HOST", "env-db")
	t.Setenv("AUTH_ISSUER", "env-issuer")
	t.Setenv("RATE_LIMIT_MAX_ATTEMPTS", "7")
	t.Setenv("LOCKOUT_DURATION", "30m")
	t.Setenv("RABBITMQ_ENABLED", "true")
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("SERVER_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10,")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", config.Server.Host)
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "env-db", config.Database.Host)
	assert.Equal(t, "env-issuer", config.Auth.Issuer)
	assert.Equal(t, 7, config.RateLimiting.MaxAttempts)
	assert.Equal(t, "30m", config.Lockout.Duration)
	assert.True(t, config.RabbitMQ.Enabled)
	assert.Equal(t, "staging", config.Environment)
}

// TestLoadConfig_InvalidEnvironmentValues проверяет ошибки разбора переменных окружения
func TestLoadConfig_InvalidEnvironmentValues(t *testing.T) {
	t.Run("port", func(t *testing.T) {
		t.Setenv("SERVER_PORT", "abc")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "invalid SERVER_PORT")
	})
	t.Run("bool", func(t *testing.T) {
		t.Setenv("RABBITMQ_ENABLED", "maybe")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "invalid RABBITMQ_ENABLED")
	})
}

// TestLoadConfig_Validation проверяет валидацию конфигурации
func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{"environment", `environment: "test"`, "invalid environment"},
		{"port", "server:\n  port: 70000", "server.port"},
		{"storage", "storage:\n  driver: \"mongo\"", "storage.driver"},
		{"issuer", "auth:\n  issuer: \"\"", "auth.issuer"},
		{"window", "rate_limiting:\n  window: \"soon\"", "rate_limiting.window"},
		{"backend", "rate_limiting:\n  backend: \"memcached\"", "rate_limiting.backend"},
		{"lockout duration", "lockout:\n  duration: \"-1m\"", "lockout.duration"},
		{"lockout threshold", "lockout:\n  threshold: 0", "lockout.threshold"},
		{"rabbitmq", "rabbitmq:\n  enabled: true\n  url: \"\"", "rabbitmq.url"},
		{"sponsor seed", "sponsors:\n  - pattern_prefix: \"AB-\"", "sponsors[0]: sponsor_id is required"},
		{"sponsor portal scheme", "sponsors:\n  - pattern_prefix: \"AB-\"\n    sponsor_id: \"S1\"\n    portal_url: \"http://s1.example.com\"", "sponsors[0]: portal_url"},
		{"sponsor portal host", "sponsors:\n  - pattern_prefix: \"AB-\"\n    sponsor_id: \"S1\"\n    portal_url: \"https://\"", "sponsors[0]: portal_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

// TestLoadConfig_MemoryStorageSkipsDatabase проверяет, что драйверу memory база данных не нужна
func TestLoadConfig_MemoryStorageSkipsDatabase(t *testing.T) {
	path := writeConfig(t, "config.yaml", "storage:\n  driver: \"memory\"\ndatabase:\n  host: \"\"\n")

	_, err := LoadConfig(path)
	assert.NoError(t, err)
}

// TestLoadConfig_Sponsors проверяет чтение начальных шаблонов кодов привязки
func TestLoadConfig_Sponsors(t *testing.T) {
	path := writeConfig(t, "config.yaml", `storage:
  driver: "memory"
sponsors:
  - pattern_prefix: "AB-"
    sponsor_id: "S1"
    sponsor_name: "Sponsor One"
    portal_url: "https://s1.example.com"
    firestore_project: "s1-prod"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, config.Sponsors, 1)
	assert.Equal(t, SponsorSeed{
		PatternPrefix:    "AB-",
		SponsorID:        "S1",
		SponsorName:      "Sponsor One",
		PortalURL:        "https://s1.example.com",
		FirestoreProject: "s1-prod",
	}, config.Sponsors[0])
}

// TestLoadConfig_MissingFile проверяет ошибку для несуществующего файла
func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file does not exist")
}

// TestDuration проверяет разбор длительности с запасным значением
func TestDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, Duration("90s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("0s", time.Minute))
}
