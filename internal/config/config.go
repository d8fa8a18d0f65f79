package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is loaded from ~/.conductor/config.toml. Every field is optional;
// missing fields fall back to the defaults below.
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Defaults DefaultsConfig `toml:"defaults"`
}

type GeneralConfig struct {
	WorkspaceRoot       string `toml:"workspace_root"`
	SyncIntervalMinutes int    `toml:"sync_interval_minutes"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	TickIntervalMS      int    `toml:"tick_interval_ms"`
}

type DefaultsConfig struct {
	DefaultBranch      string `toml:"default_branch"`
	WorktreePrefixFeat string `toml:"worktree_prefix_feat"`
	WorktreePrefixFix  string `toml:"worktree_prefix_fix"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			WorkspaceRoot:       filepath.Join(Dir(), "workspaces"),
			SyncIntervalMinutes: 15,
			PollIntervalSeconds: 5,
			TickIntervalMS:      200,
		},
		Defaults: DefaultsConfig{
			DefaultBranch:      "main",
			WorktreePrefixFeat: "feat-",
			WorktreePrefixFix:  "fix-",
		},
	}
}

// Dir returns the conductor data directory: ~/.conductor.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to the working directory rather than panicking; every
		// caller surfaces the resulting path in its own error message.
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}

// DBPath returns the path to the shared SQLite database.
func DBPath() string {
	return filepath.Join(Dir(), "conductor.db")
}

// LogDir returns the directory for conductor log files.
func LogDir() string {
	return filepath.Join(Dir(), "logs")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the config file, returning defaults if it does not exist.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads a config file from an explicit path. Missing file is not an
// error; a malformed file is.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills any field the file left zero-valued.
func (c *Config) applyDefaults() {
	d := Default()
	if c.General.WorkspaceRoot == "" {
		c.General.WorkspaceRoot = d.General.WorkspaceRoot
	}
	if c.General.SyncIntervalMinutes <= 0 {
		c.General.SyncIntervalMinutes = d.General.SyncIntervalMinutes
	}
	if c.General.PollIntervalSeconds <= 0 {
		c.General.PollIntervalSeconds = d.General.PollIntervalSeconds
	}
	if c.General.TickIntervalMS <= 0 {
		c.General.TickIntervalMS = d.General.TickIntervalMS
	}
	if c.Defaults.DefaultBranch == "" {
		c.Defaults.DefaultBranch = d.Defaults.DefaultBranch
	}
	if c.Defaults.WorktreePrefixFeat == "" {
		c.Defaults.WorktreePrefixFeat = d.Defaults.WorktreePrefixFeat
	}
	if c.Defaults.WorktreePrefixFix == "" {
		c.Defaults.WorktreePrefixFix = d.Defaults.WorktreePrefixFix
	}
}

// SyncInterval returns the ticket sync interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.General.SyncIntervalMinutes) * time.Minute
}

// PollInterval returns how often the dashboard re-reads the shared store.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.General.PollIntervalSeconds) * time.Second
}

// TickInterval returns the spinner/redraw tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.General.TickIntervalMS) * time.Millisecond
}

// EnsureDirs creates the data directory and workspace root.
func EnsureDirs(cfg *Config) error {
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", Dir(), err)
	}
	if err := os.MkdirAll(cfg.General.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("create workspace root %s: %w", cfg.General.WorkspaceRoot, err)
	}
	return nil
}
