package config

// Config holds all application configuration, grouped by concern. The
// same struct serves both binaries; the worker simply ignores the server
// section.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Broker BrokerConfig `mapstructure:"broker" validate:"required"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Auth   AuthConfig   `mapstructure:"auth"   validate:"required"`
	Blob   BlobConfig   `mapstructure:"blob"   validate:"required"`
	Worker WorkerConfig `mapstructure:"worker"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// BrokerConfig selects the queue and pub/sub backend. The memory backend
// is single-process: the server runs an embedded worker and needs no
// external services. The redis backend lets servers and workers scale
// independently.
type BrokerConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory redis"`
}

// RedisConfig contains the Redis connection settings, used when the
// broker backend is redis.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,uri"`

	// TTLHours expires task status records. Zero keeps them forever.
	TTLHours int `mapstructure:"ttl_hours" validate:"gte=0"`
}

// AuthConfig contains authentication settings. The JWT secret also signs
// blob locators.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`

	// PublicAccess lets anyone obtain a token for the shared public user
	// without registering.
	PublicAccess bool `mapstructure:"public_access"`

	// AllowRegistration enables the signup endpoint.
	AllowRegistration bool `mapstructure:"allow_registration"`
}

// BlobConfig contains blob storage settings.
type BlobConfig struct {
	// BaseURL is the externally reachable prefix blob locators are built
	// from.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// WorkerConfig contains generation worker settings.
type WorkerConfig struct {
	// Count is the number of runner loops a standalone worker process
	// runs. Each loop executes one task at a time.
	Count int `mapstructure:"count" validate:"required,gte=1"`

	// StepDelayMS is the simulated per-step duration of the stub engine.
	StepDelayMS int `mapstructure:"step_delay_ms" validate:"gte=0"`
}
