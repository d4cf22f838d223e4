// Package config loads session configuration from a YAML file with
// environment overrides. Every setting has a REVSYNC_* variable so
// headless runs need no file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete session configuration.
type Config struct {
	// User is the analyst identity owning the writable snapshot.
	User string `yaml:"user"`
	// RepoPath is the local sync repository working tree.
	RepoPath string `yaml:"repo_path"`
	// RemoteURL is the shared remote; empty means local-only.
	RemoteURL string `yaml:"remote_url"`
	// BinaryPath points at the binary under analysis, hashed at
	// connect time to verify repository identity.
	BinaryPath string `yaml:"binary_path"`
	// CacheDir holds the parsed-state cache; empty disables it.
	CacheDir string `yaml:"cache_dir"`
	// PullInterval spaces remote fetches.
	PullInterval time.Duration `yaml:"pull_interval"`
	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	cacheDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".revsync", "cache")
	}
	return Config{
		PullInterval: 10 * time.Second,
		CacheDir:     cacheDir,
		LogLevel:     "info",
	}
}

// Load reads path (when non-empty), then applies environment
// overrides on top. A missing file is not an error; a present but
// unreadable one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = 10 * time.Second
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.User, "REVSYNC_USER")
	setString(&c.RepoPath, "REVSYNC_REPO")
	setString(&c.RemoteURL, "REVSYNC_REMOTE")
	setString(&c.BinaryPath, "REVSYNC_BINARY")
	setString(&c.CacheDir, "REVSYNC_CACHE_DIR")
	setString(&c.LogLevel, "REVSYNC_LOG_LEVEL")
	if v := os.Getenv("REVSYNC_PULL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PullInterval = d
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// ConfigureLogging applies the configured log level globally.
func (c Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
