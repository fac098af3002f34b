package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	igd "github.com/go-i2p/go-upnp-igd"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "igd.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2*time.Second, cfg.DiscoveryTimeout)
	assert.False(t, cfg.NATPMPFallback)
	assert.Equal(t, time.Second, cfg.NATPMPTimeout)
	assert.Zero(t, cfg.RefreshInterval)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
discovery_timeout = 3s
NATPMP_Fallback = true
natpmp_timeout = 500ms
refresh_interval = 5m
log_level = debug
description = home server
`)

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 3*time.Second, cfg.DiscoveryTimeout)
	assert.True(t, cfg.NATPMPFallback)
	assert.Equal(t, 500*time.Millisecond, cfg.NATPMPTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "home server", cfg.Description)
}

func TestLoadFromFileKeepsDefaultsForBadValues(t *testing.T) {
	path := writeConfig(t, "discovery_timeout = soon\nnatpmp_fallback = maybe\n")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 2*time.Second, cfg.DiscoveryTimeout)
	assert.False(t, cfg.NATPMPFallback)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IGD_DISCOVERY_TIMEOUT", "4s")
	t.Setenv("IGD_NATPMP_FALLBACK", "1")
	t.Setenv("IGD_REFRESH_INTERVAL", "not-a-duration")
	t.Setenv("IGD_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, 4*time.Second, cfg.DiscoveryTimeout)
	assert.True(t, cfg.NATPMPFallback)
	assert.Zero(t, cfg.RefreshInterval)
	assert.Equal(t, slog.LevelWarn, cfg.Level())
}

func TestNew(t *testing.T) {
	t.Run("environment overrides the file", func(t *testing.T) {
		path := writeConfig(t, "discovery_timeout = 3s\nlog_level = error\n")
		t.Setenv("IGD_DISCOVERY_TIMEOUT", "1s")

		cfg, err := New(path)
		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.DiscoveryTimeout)
		assert.Equal(t, slog.LevelError, cfg.Level())
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := New(filepath.Join(t.TempDir(), "absent.ini"))
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.DiscoveryTimeout)
	})

	t.Run("no file", func(t *testing.T) {
		cfg, err := New("")
		require.NoError(t, err)
		assert.Equal(t, "igdctl", cfg.Description)
	})
}

func TestLevelFallsBackToInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "chatty"
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestControllerOptions(t *testing.T) {
	logger := slog.Default()

	cfg := DefaultConfig()
	opts := cfg.ControllerOptions(logger)
	assert.Same(t, logger, opts.Logger)
	assert.Equal(t, 2*time.Second, opts.DiscoveryTimeout)
	assert.Nil(t, opts.ExternalIPFallback)

	cfg.NATPMPFallback = true
	cfg.NATPMPTimeout = 250 * time.Millisecond
	opts = cfg.ControllerOptions(logger)
	assert.Equal(t, igd.NATPMPResolver{Timeout: 250 * time.Millisecond}, opts.ExternalIPFallback)
}
