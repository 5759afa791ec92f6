// Package config loads the client configuration from a YAML file and
// environment variables via viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the client.
type Config struct {
	Backend BackendConfig
	Local   LocalConfig
	Sync    SyncConfig
	Metrics MetricsConfig
}

// BackendConfig selects and parameterizes the hosted backend. When URL is
// empty the client runs against the local backend instead.
type BackendConfig struct {
	URL    string
	APIKey string
}

// LocalConfig parameterizes the local development backend.
type LocalConfig struct {
	DataDir     string
	TokenSecret string
}

// SyncConfig controls the poll loop.
type SyncConfig struct {
	Interval time.Duration
}

// MetricsConfig controls the optional Prometheus endpoint. Empty Addr
// disables it.
type MetricsConfig struct {
	Addr string
}

// Load reads configuration from the given file, falling back to
// splitbill.yaml in the working directory, with SPLITBILL_* environment
// variables overriding file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath == "" {
		configPath = "splitbill.yaml"
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SPLITBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("Local.DataDir", ".splitbill")
	v.SetDefault("Local.TokenSecret", "dev-secret")
	v.SetDefault("Sync.Interval", "7s")
	v.SetDefault("Metrics.Addr", "")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and environment cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Backend.URL != "" && cfg.Backend.APIKey == "" {
		return nil, fmt.Errorf("backend API key is required when a backend URL is set")
	}
	if cfg.Sync.Interval < time.Second {
		return nil, fmt.Errorf("sync interval must be at least 1s, got %s", cfg.Sync.Interval)
	}

	return &cfg, nil
}
