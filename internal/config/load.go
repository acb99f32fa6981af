package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables with the IMAGEN_
// prefix (e.g. IMAGEN_SERVER_PORT, IMAGEN_AUTH_JWT_SECRET), applies
// defaults, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMAGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults double as key registrations so AutomaticEnv picks the
	// variables up during Unmarshal.
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("broker.backend", "memory")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl_hours", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("auth.public_access", false)
	v.SetDefault("auth.allow_registration", true)
	v.SetDefault("blob.base_url", "http://localhost:8000/blob")
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.step_delay_ms", 0)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Broker.Backend == "redis" && cfg.Redis.URL == "" {
		return nil, errors.New("validating config: redis.url is required when broker.backend is redis")
	}

	return &cfg, nil
}
