// Package config holds the application configuration model: defaults, the
// optional YAML config file, and validation. CLI flags override file values
// in internal/cli.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	// Listen is the HTTP bind address, e.g. ":8080".
	Listen string `yaml:"listen"`
	// Store selects the persistence gateway: "file" or "memory".
	Store string `yaml:"store"`
	// DataDir is the file store's root directory.
	DataDir string `yaml:"data_dir"`
	// GraphsPath optionally points at a directory of .hcl graph definition
	// files preloaded at startup. Empty disables preloading.
	GraphsPath string `yaml:"graphs_path"`
	// RecoveryWorkers bounds how many incomplete runs resume in parallel.
	RecoveryWorkers int `yaml:"recovery_workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Events EventsConfig `yaml:"events"`
}

// EventsConfig configures optional run event publication.
type EventsConfig struct {
	SocketIO SocketIOConfig `yaml:"socketio"`
}

// SocketIOConfig points at a socket.io event collector. An empty URL
// disables the sink.
type SocketIOConfig struct {
	URL                string `yaml:"url"`
	Namespace          string `yaml:"namespace"`
	EmitEvent          string `yaml:"emit_event"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Default returns the configuration used when no file and no flags are given.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		Store:           "file",
		DataDir:         "data",
		RecoveryWorkers: 4,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values after flags have been applied.
func (c *Config) Validate() error {
	switch c.Store {
	case "file", "memory":
	default:
		return fmt.Errorf("invalid store %q: must be 'file' or 'memory'", c.Store)
	}
	if c.Store == "file" && c.DataDir == "" {
		return errors.New("data_dir is required for the file store")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", c.LogLevel)
	}

	if c.RecoveryWorkers < 1 {
		return errors.New("recovery_workers must be at least 1")
	}
	return nil
}
