// Package config provides centralized configuration for SentryBar.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PathConfig holds configurable paths for SentryBar.
// All paths can be overridden via environment variables.
type PathConfig struct {
	// DataDir is the directory for durable state (the rule store)
	DataDir string

	// LogDir is the directory for log files
	LogDir string
}

// DefaultPathConfig returns the default path configuration.
// Paths are determined by:
// 1. Environment variables (highest priority)
// 2. XDG Base Directory Specification
// 3. Platform-specific defaults
func DefaultPathConfig() *PathConfig {
	dataDir := getUserDataDir()
	cacheDir := getUserCacheDir()

	return &PathConfig{
		DataDir: getEnvOrDefault("SENTRYBAR_DATA_DIR", filepath.Join(dataDir, "sentrybar")),
		LogDir:  getEnvOrDefault("SENTRYBAR_LOG_DIR", filepath.Join(cacheDir, "sentrybar", "logs")),
	}
}

// RuleStorePath returns the default location of the persisted rule list.
func (c *PathConfig) RuleStorePath() string {
	return filepath.Join(c.DataDir, "rules.json")
}

// getEnvOrDefault returns the environment variable value or the default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getUserDataDir returns the user data directory following XDG spec.
func getUserDataDir() string {
	// Check XDG_DATA_HOME first
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return xdgData
	}

	// Fall back to platform defaults
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support")
	default: // linux, etc.
		return filepath.Join(home, ".local", "share")
	}
}

// getUserCacheDir returns the user cache directory following XDG spec.
func getUserCacheDir() string {
	// Check XDG_CACHE_HOME first
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return xdgCache
	}

	// Fall back to platform defaults
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches")
	default: // linux, etc.
		return filepath.Join(home, ".cache")
	}
}

// EnsureDirectories creates all configured directories if they don't exist.
func (c *PathConfig) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// Global instance for convenience
var Paths = DefaultPathConfig()

// Environment variable documentation for users
const PathEnvVarsDoc = `
SentryBar Path Configuration Environment Variables:

  SENTRYBAR_DATA_DIR   Directory for durable state (rule store)
                       Default: ~/.local/share/sentrybar

  SENTRYBAR_LOG_DIR    Directory for log files
                       Default: ~/.cache/sentrybar/logs
`
