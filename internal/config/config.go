// Package config loads user configuration for the agent-island daemon.
//
// Configuration lives in ~/.agent-island/config.toml. Every field has a
// working default so a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file inside the agent-island directory.
const FileName = "config.toml"

// Defaults.
const (
	DefaultSocketPath = "/tmp/agent-island.sock"
	DefaultHTTPAddr   = "127.0.0.1:8787"
	DefaultDebounceMS = 100
)

// Config represents user-facing configuration in TOML format.
type Config struct {
	// SocketPath is the Unix socket the hook scripts deliver events to.
	SocketPath string `toml:"socket_path"`

	// HTTPAddr is the listen address for the snapshot API and websocket feed.
	HTTPAddr string `toml:"http_addr"`

	// DebounceMS is the transcript resync debounce delay in milliseconds.
	DebounceMS int `toml:"debounce_ms"`

	// ClaudeConfigDir overrides the Claude Code config directory used to
	// discover transcript files. Defaults to ~/.claude.
	ClaudeConfigDir string `toml:"claude_config_dir"`

	// Log defines logging settings.
	Log LogSettings `toml:"log"`
}

// LogSettings controls the rotating debug log.
type LogSettings struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // json (default) or text
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Dir returns the agent-island config/state directory.
// AGENT_ISLAND_CONFIG_DIR overrides the default ~/.agent-island.
func Dir() string {
	if env := os.Getenv("AGENT_ISLAND_CONFIG_DIR"); env != "" {
		return expandTilde(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agent-island")
	}
	return filepath.Join(home, ".agent-island")
}

// Load reads the config file from Dir, applying defaults and environment
// overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(Dir(), FileName))
}

// LoadFrom reads a config file at an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		SocketPath: DefaultSocketPath,
		HTTPAddr:   DefaultHTTPAddr,
		DebounceMS: DefaultDebounceMS,
		Log: LogSettings{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) applyEnv() {
	if env := os.Getenv("AGENT_ISLAND_SOCKET"); env != "" {
		c.SocketPath = env
	}
	if env := os.Getenv("CLAUDE_CONFIG_DIR"); env != "" {
		c.ClaudeConfigDir = expandTilde(env)
	}
}

func (c *Config) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.DebounceMS <= 0 {
		c.DebounceMS = DefaultDebounceMS
	}
	if c.ClaudeConfigDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.ClaudeConfigDir = filepath.Join(home, ".claude")
		}
	} else {
		c.ClaudeConfigDir = expandTilde(c.ClaudeConfigDir)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Debounce returns the resync debounce delay as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// expandTilde expands a leading ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
