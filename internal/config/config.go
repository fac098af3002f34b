package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	igd "github.com/go-i2p/go-upnp-igd"
)

// Config holds the settings of an IGD control point.
type Config struct {
	// Discovery
	DiscoveryTimeout time.Duration

	// External address fallback
	NATPMPFallback bool
	NATPMPTimeout  time.Duration

	// Periodic refresh, 0 disables it
	RefreshInterval time.Duration

	LogLevel    string
	Description string
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		DiscoveryTimeout: 2 * time.Second,
		NATPMPFallback:   false,
		NATPMPTimeout:    time.Second,
		RefreshInterval:  0,
		LogLevel:         "info",
		Description:      "igdctl",
	}
}

// LoadFromFile loads configuration from an INI file. Keys live in the
// default section and are case-insensitive.
func (c *Config) LoadFromFile(filename string) error {
	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, filename)
	if err != nil {
		return fmt.Errorf("failed to load config file %s: %w", filename, err)
	}

	section := cfg.Section("")
	c.DiscoveryTimeout = section.Key("discovery_timeout").MustDuration(c.DiscoveryTimeout)
	c.NATPMPFallback = section.Key("natpmp_fallback").MustBool(c.NATPMPFallback)
	c.NATPMPTimeout = section.Key("natpmp_timeout").MustDuration(c.NATPMPTimeout)
	c.RefreshInterval = section.Key("refresh_interval").MustDuration(c.RefreshInterval)
	c.LogLevel = section.Key("log_level").MustString(c.LogLevel)
	c.Description = section.Key("description").MustString(c.Description)

	return nil
}

// LoadFromEnv overrides settings from IGD_* environment variables.
// Unparsable values are logged and ignored.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("IGD_DISCOVERY_TIMEOUT"); v != "" {
		c.DiscoveryTimeout = envDuration("IGD_DISCOVERY_TIMEOUT", v, c.DiscoveryTimeout)
	}
	if v := os.Getenv("IGD_NATPMP_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.NATPMPFallback = b
		} else {
			slog.Warn("ignoring invalid environment value", "key", "IGD_NATPMP_FALLBACK", "value", v)
		}
	}
	if v := os.Getenv("IGD_REFRESH_INTERVAL"); v != "" {
		c.RefreshInterval = envDuration("IGD_REFRESH_INTERVAL", v, c.RefreshInterval)
	}
	if v := os.Getenv("IGD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func envDuration(key, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("ignoring invalid environment value", "key", key, "value", value)
		return fallback
	}
	return d
}

// Level returns the configured slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ControllerOptions converts the configuration into controller options.
func (c *Config) ControllerOptions(logger *slog.Logger) igd.Options {
	opts := igd.Options{
		Logger:           logger,
		DiscoveryTimeout: c.DiscoveryTimeout,
	}
	if c.NATPMPFallback {
		opts.ExternalIPFallback = igd.NATPMPResolver{Timeout: c.NATPMPTimeout}
	}
	return opts
}

// New creates a configuration from defaults, the optional INI file and the
// environment, in that order. A missing file is not an error.
func New(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			slog.Debug("config file not found, using defaults", "file", configFile)
		}
	}

	cfg.LoadFromEnv()
	return cfg, nil
}
