package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_StringSliceAndInt(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9999")
	t.Setenv("ALLOWED_ORIGINS", "a.example.com, b.example.com")

	cfg := &GatewayConfig{}
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.AllowedOrigins)
}

func TestLoadFromEnv_IgnoresUnsetVars(t *testing.T) {
	cfg := &GatewayConfig{Port: 42}
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, 42, cfg.Port)
}
