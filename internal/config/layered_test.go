package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayeredLoader_DefaultsOnly(t *testing.T) {
	l := NewLayeredLoader()
	l.DisableLayer(LayerFile)
	l.DisableLayer(LayerEnv)

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultGatewayConfig().Port, cfg.Port)
}

func TestLayeredLoader_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\ndata_dir: /tmp/custom\n"), 0o600))

	l := NewLayeredLoader()
	l.DisableLayer(LayerEnv)
	cfg, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/custom", cfg.DataDir)
}

func TestLayeredLoader_EnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o600))

	l := NewLayeredLoader()
	cfg, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLayeredLoader_MissingFileIsNotError(t *testing.T) {
	l := NewLayeredLoader()
	l.DisableLayer(LayerEnv)
	cfg, err := l.Load("/nonexistent/path.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultGatewayConfig().Port, cfg.Port)
}

func TestGatewayConfig_Validate(t *testing.T) {
	cfg := DefaultGatewayConfig()
	require.NoError(t, cfg.Validate())

	cfg.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestSanitizeHostname(t *testing.T) {
	require.NoError(t, SanitizeHostname("example.com"))
	require.NoError(t, SanitizeHostname("localhost"))
	assert.Error(t, SanitizeHostname(""))
	assert.Error(t, SanitizeHostname("evil.com/path"))
	assert.Error(t, SanitizeHostname("javascript:alert(1)"))
}
