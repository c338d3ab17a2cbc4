// Package config loads and validates the hub's runtime settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the immutable settings record the hub is constructed from.
type Config struct {
	Hub      *HubConfig      `json:"hub"`
	HTTP     *HTTPConfig     `json:"http"`
	Database *DatabaseConfig `json:"database"`
}

// HubConfig holds the routing-core timing and policy knobs from spec §6.
type HubConfig struct {
	SharedSecret   string        `json:"shared_secret"`
	AuthGrace      time.Duration `json:"auth_grace"`
	StaleThreshold time.Duration `json:"stale_threshold"`
	SweepInterval  time.Duration `json:"sweep_interval"`
	CommandTimeout time.Duration `json:"command_timeout"`
	PersistCadence time.Duration `json:"persist_cadence"`
	HistoryCap     int           `json:"history_cap"`
}

// DatabaseConfig configures the telemetry store's SQLite file.
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPConfig configures the status/command REST surface.
type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// DefaultConfig returns production-ready defaults per spec §6: a 5s auth
// grace window, a 300s stale threshold swept every 60s, 30s telemetry
// persistence cadence, 30s command expiration, and a 100-entry history cap.
func DefaultConfig() *Config {
	return &Config{
		Hub: &HubConfig{
			SharedSecret:   "change-me-in-production",
			AuthGrace:      5 * time.Second,
			StaleThreshold: 300 * time.Second,
			SweepInterval:  60 * time.Second,
			CommandTimeout: 30 * time.Second,
			PersistCadence: 30 * time.Second,
			HistoryCap:     100,
		},
		Database: &DatabaseConfig{
			Path:    "./hub.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
	}
}

// Validate rejects configurations that would misbehave at runtime rather
// than fail fast at startup.
func (c *Config) Validate() error {
	if c.Hub == nil {
		return fmt.Errorf("hub configuration is required")
	}
	if c.Hub.SharedSecret == "" {
		return fmt.Errorf("hub shared secret cannot be empty")
	}
	if c.Hub.AuthGrace <= 0 {
		return fmt.Errorf("hub auth grace must be positive")
	}
	if c.Hub.StaleThreshold <= 0 {
		return fmt.Errorf("hub stale threshold must be positive")
	}
	if c.Hub.SweepInterval <= 0 {
		return fmt.Errorf("hub sweep interval must be positive")
	}
	if c.Hub.CommandTimeout <= 0 {
		return fmt.Errorf("hub command timeout must be positive")
	}
	if c.Hub.PersistCadence <= 0 {
		return fmt.Errorf("hub persist cadence must be positive")
	}
	if c.Hub.HistoryCap <= 0 {
		return fmt.Errorf("hub history cap must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	return nil
}

// LoadFromEnv starts from DefaultConfig and overrides any field with an
// HUB_* environment variable present and parseable; unparseable values
// silently fall back to the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("HUB_SHARED_SECRET"); v != "" {
		config.Hub.SharedSecret = v
	}
	if v := os.Getenv("HUB_AUTH_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Hub.AuthGrace = d
		}
	}
	if v := os.Getenv("HUB_STALE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Hub.StaleThreshold = d
		}
	}
	if v := os.Getenv("HUB_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Hub.SweepInterval = d
		}
	}
	if v := os.Getenv("HUB_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Hub.CommandTimeout = d
		}
	}
	if v := os.Getenv("HUB_PERSIST_CADENCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Hub.PersistCadence = d
		}
	}
	if v := os.Getenv("HUB_HISTORY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Hub.HistoryCap = n
		}
	}

	if v := os.Getenv("HUB_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.HTTP.Port = p
		}
	}
	if v := os.Getenv("HUB_HTTP_HOST"); v != "" {
		config.HTTP.Host = v
	}
	if v := os.Getenv("HUB_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("HUB_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}

	if v := os.Getenv("HUB_DATABASE_PATH"); v != "" {
		config.Database.Path = v
	}
	if v := os.Getenv("HUB_DATABASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.Timeout = d
		}
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing, with durations as strings.
type ConfigFile struct {
	Hub      *HubConfigFile      `json:"hub"`
	HTTP     *HTTPConfigFile     `json:"http"`
	Database *DatabaseConfigFile `json:"database"`
}

type HubConfigFile struct {
	SharedSecret   string `json:"shared_secret"`
	AuthGrace      string `json:"auth_grace"`
	StaleThreshold string `json:"stale_threshold"`
	SweepInterval  string `json:"sweep_interval"`
	CommandTimeout string `json:"command_timeout"`
	PersistCadence string `json:"persist_cadence"`
	HistoryCap     int    `json:"history_cap"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

// LoadFromFile reads a JSON config file, merges it over DefaultConfig, and
// validates the result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Hub != nil {
		if configFile.Hub.SharedSecret != "" {
			config.Hub.SharedSecret = configFile.Hub.SharedSecret
		}
		if configFile.Hub.HistoryCap > 0 {
			config.Hub.HistoryCap = configFile.Hub.HistoryCap
		}
		if d, err := time.ParseDuration(configFile.Hub.AuthGrace); err == nil {
			config.Hub.AuthGrace = d
		}
		if d, err := time.ParseDuration(configFile.Hub.StaleThreshold); err == nil {
			config.Hub.StaleThreshold = d
		}
		if d, err := time.ParseDuration(configFile.Hub.SweepInterval); err == nil {
			config.Hub.SweepInterval = d
		}
		if d, err := time.ParseDuration(configFile.Hub.CommandTimeout); err == nil {
			config.Hub.CommandTimeout = d
		}
		if d, err := time.ParseDuration(configFile.Hub.PersistCadence); err == nil {
			config.Hub.PersistCadence = d
		}
	}

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if d, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
			config.Database.Timeout = d
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if d, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
			config.HTTP.ReadTimeout = d
		}
		if d, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence returns defaults overridden by HUB_* environment
// variables. When filepath names a file that loads and validates, the
// file's config (built over DefaultConfig) is returned instead; environment
// overrides are not applied on top of it. A missing, unreadable, or invalid
// file is silently ignored.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
