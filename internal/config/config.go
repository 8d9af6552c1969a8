// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the application configuration.
type Config struct {
	OutputRoot    string       `yaml:"output_root"`
	AssetBaseURL  string       `yaml:"asset_base_url"`
	Template      string       `yaml:"template,omitempty"` // empty uses the built-in layout
	MaxNavDepth   int          `yaml:"max_nav_depth"`
	MaxEntryBytes int64        `yaml:"max_entry_bytes"`
	Log           LogConfig    `yaml:"log"`
	Server        ServerConfig `yaml:"server"`
}

// LogConfig contains logging options.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig contains options for the HTTP serve layer.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	MaxDownloadBytes int64         `yaml:"max_download_bytes"`
	// ImageOptimizer is an optional argv run in the background after each
	// publish, with the published directory appended.
	ImageOptimizer []string `yaml:"image_optimizer,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputRoot:    "./static",
		AssetBaseURL:  "/static",
		MaxNavDepth:   64,
		MaxEntryBytes: 256 << 20,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:             ":8080",
			DownloadTimeout:  60 * time.Second,
			MaxDownloadBytes: 512 << 20,
		},
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OutputRoot) == "" {
		errs = append(errs, errors.New("output_root must not be empty"))
	}
	if c.MaxNavDepth < 0 {
		errs = append(errs, fmt.Errorf("max_nav_depth must not be negative: %d", c.MaxNavDepth))
	}
	if c.MaxEntryBytes < 0 {
		errs = append(errs, fmt.Errorf("max_entry_bytes must not be negative: %d", c.MaxEntryBytes))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Server.DownloadTimeout < 0 {
		errs = append(errs, errors.New("server.download_timeout must not be negative"))
	}
	if c.Server.MaxDownloadBytes < 0 {
		errs = append(errs, errors.New("server.max_download_bytes must not be negative"))
	}
	return errors.Join(errs...)
}
