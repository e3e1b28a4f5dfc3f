package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Layer represents a configuration layer source.
type Layer string

const (
	LayerDefaults Layer = "defaults"
	LayerFile     Layer = "file"
	LayerEnv      Layer = "env"
	LayerFlags    Layer = "flags"
)

// LayeredLoader loads GatewayConfig with layered precedence:
//
//  1. Defaults   - DefaultGatewayConfig()
//  2. File       - optional YAML file
//  3. Environment - environment variable overrides
//  4. Flags      - applied by the caller after Load returns (cobra flags
//     are application-specific and not a layer this loader understands)
//
// Each layer overrides values set by the previous one.
type LayeredLoader struct {
	enabledLayers map[Layer]bool
}

// NewLayeredLoader creates a loader with defaults/file/env enabled and
// flags left to the caller.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{
		enabledLayers: map[Layer]bool{
			LayerDefaults: true,
			LayerFile:     true,
			LayerEnv:      true,
			LayerFlags:    false,
		},
	}
}

// DisableLayer turns off a layer, useful in tests that want an isolated
// defaults-only config.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.enabledLayers[layer] = false
}

// Load builds a GatewayConfig from defaults, an optional file, then env.
func (l *LayeredLoader) Load(configPath string) (*GatewayConfig, error) {
	var cfg *GatewayConfig
	if l.enabledLayers[LayerDefaults] {
		cfg = DefaultGatewayConfig()
	} else {
		cfg = &GatewayConfig{}
	}

	if l.enabledLayers[LayerFile] && configPath != "" {
		if err := l.mergeFromFile(cfg, configPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	if l.enabledLayers[LayerEnv] {
		if err := LoadFromEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
	}

	return cfg, nil
}

func (l *LayeredLoader) mergeFromFile(cfg interface{}, filePath string) error {
	// #nosec G304 -- filePath comes from the application's own --config flag, not untrusted user input.
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}
