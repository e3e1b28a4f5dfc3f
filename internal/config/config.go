// Package config loads the gateway's bootstrap configuration: the small set
// of process-level settings needed before the durable config store (see
// internal/configstore) can be opened — bind address, data directory, and
// the encryption key file location.
package config

import "time"

// GatewayConfig is the bootstrap configuration for the gateway process.
type GatewayConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`

	// DataDir is where the durable store (DuckDB file) lives.
	DataDir string `yaml:"data_dir" env:"GATEWAY_DATA_DIR"`

	// EncryptionKeyFile overrides the default process-local key file, which
	// holds the RS256 token-signing key as PEM. Auto-generated on first boot
	// with 0600 permissions if it does not already exist. Secrets held in the
	// config store are not encrypted with this key.
	EncryptionKeyFile string `yaml:"encryption_key_file" env:"ENCRYPTION_KEY_FILE"`

	// JWTSecret is the legacy HS256 signing secret. Optional; when unset the
	// HS256 fallback path is disabled entirely.
	JWTSecret string `yaml:"-" env:"JWT_SECRET"`

	// AllowedOrigins seeds the origin allowlist on first boot only; after
	// that the persisted OriginPolicy in the config store is authoritative.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	UnaryTimeout       time.Duration `yaml:"unary_timeout"`
	SSEIdleTimeout     time.Duration `yaml:"sse_idle_timeout"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	EventBufferSize    int           `yaml:"event_buffer_size"`
}

// DefaultGatewayConfig returns the hardcoded default bootstrap configuration.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Host:               "0.0.0.0",
		Port:               8080,
		DataDir:            "./data",
		EncryptionKeyFile:  "./data/gateway.key",
		UnaryTimeout:       60 * time.Second,
		SSEIdleTimeout:     300 * time.Second,
		SessionIdleTimeout: 30 * time.Minute,
		EventBufferSize:    256,
	}
}

// Validate implements Validator.
func (c *GatewayConfig) Validate() error {
	var errs []ValidationError
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, ValidationError{Field: "port", Message: "port must be between 1 and 65535"})
	}
	if c.DataDir == "" {
		errs = append(errs, ValidationError{Field: "data_dir", Message: "data_dir is required"})
	}
	if c.EventBufferSize <= 0 {
		errs = append(errs, ValidationError{Field: "event_buffer_size", Message: "event_buffer_size must be positive"})
	}
	for _, o := range c.AllowedOrigins {
		if err := SanitizeHostname(o); err != nil {
			errs = append(errs, ValidationError{Field: "allowed_origins", Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
