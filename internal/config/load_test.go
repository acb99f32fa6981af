package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("IMAGEN_AUTH_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "memory", cfg.Broker.Backend)
	assert.Equal(t, 60, cfg.Auth.TokenLifetimeMinutes)
	assert.False(t, cfg.Auth.PublicAccess)
	assert.Equal(t, "http://localhost:8000/blob", cfg.Blob.BaseURL)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("IMAGEN_AUTH_JWT_SECRET", testSecret)
	t.Setenv("IMAGEN_SERVER_PORT", "9090")
	t.Setenv("IMAGEN_SERVER_LOG_LEVEL", "debug")
	t.Setenv("IMAGEN_BROKER_BACKEND", "redis")
	t.Setenv("IMAGEN_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("IMAGEN_AUTH_PUBLIC_ACCESS", "true")
	t.Setenv("IMAGEN_REDIS_TTL_HOURS", "48")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "redis", cfg.Broker.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.True(t, cfg.Auth.PublicAccess)
	assert.Equal(t, 48, cfg.Redis.TTLHours)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("IMAGEN_AUTH_JWT_SECRET", "too-short")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("IMAGEN_AUTH_JWT_SECRET", testSecret)
	t.Setenv("IMAGEN_BROKER_BACKEND", "rabbitmq")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresRedisURLForRedisBackend(t *testing.T) {
	t.Setenv("IMAGEN_AUTH_JWT_SECRET", testSecret)
	t.Setenv("IMAGEN_BROKER_BACKEND", "redis")

	_, err := Load()
	assert.Error(t, err)
}
