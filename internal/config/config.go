package config

import (
	"path/filepath"
	"time"
)

// Config holds client configuration values.
type Config struct {
	// APIBaseURL is the HopOn REST API root, e.g. "http://localhost:8000".
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
	// RealtimeURL is the push endpoint root. Empty means derive from APIBaseURL.
	RealtimeURL string        `mapstructure:"realtime_url" yaml:"realtime_url"`
	StateDir    string        `mapstructure:"state_dir" yaml:"state_dir"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
	DevAddr     string        `mapstructure:"dev_addr" yaml:"dev_addr"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIBaseURL:  "http://localhost:8000",
		StateDir:    ".hopon",
		HTTPTimeout: 10 * time.Second,
		LogLevel:    "info",
		DevAddr:     ":8000",
	}
}

// ResolvedRealtimeURL returns the realtime root, falling back to the API root.
func (c Config) ResolvedRealtimeURL() string {
	if c.RealtimeURL != "" {
		return c.RealtimeURL
	}
	return c.APIBaseURL
}

// SessionDBPath is where the sqlite credential store lives.
func (c Config) SessionDBPath() string {
	return filepath.Join(c.StateDir, "session.db")
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.RealtimeURL != "" {
		c.RealtimeURL = other.RealtimeURL
	}
	if other.StateDir != "" {
		c.StateDir = other.StateDir
	}
	if other.HTTPTimeout != 0 {
		c.HTTPTimeout = other.HTTPTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DevAddr != "" {
		c.DevAddr = other.DevAddr
	}
}
