// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/macrotap/internal/constants"
	"github.com/coral-mesh/macrotap/internal/safe"
)

// ConfigEnv overrides the config file path.
const ConfigEnv = "MACROTAP_CONFIG"

// Loader handles loading and saving the configuration file.
type Loader struct {
	path string
}

// NewLoader creates a new config loader.
// The config file is resolved in this order:
//  1. MACROTAP_CONFIG environment variable.
//  2. ~/.macrotap/config.yaml.
//  3. ./.macrotap/config.yaml when no home directory exists.
func NewLoader() *Loader {
	if path := os.Getenv(ConfigEnv); path != "" {
		return &Loader{path: path}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return &Loader{path: filepath.Join(homeDir, constants.DefaultDir, constants.ConfigFile)}
}

// NewLoaderWithPath creates a loader for an explicit config file.
func NewLoaderWithPath(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file, or the defaults when it does not exist, and
// applies environment variable overrides. Fields missing from the file keep
// their default values.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	data, err := safe.ReadFile(l.path, &safe.ReadFileOptions{AllowSymlinks: true})
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
		}
	}

	if err := MergeFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return config, nil
}

// Save writes config to the config file, creating its directory.
func (l *Loader) Save(config *Config) error {
	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	//nolint:gosec // G306: Config file is not sensitive
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
