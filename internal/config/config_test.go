package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Defaults.DefaultBranch != "main" {
		t.Errorf("default branch = %q, want main", cfg.Defaults.DefaultBranch)
	}
	if cfg.Defaults.WorktreePrefixFeat != "feat-" || cfg.Defaults.WorktreePrefixFix != "fix-" {
		t.Errorf("prefixes = %q/%q", cfg.Defaults.WorktreePrefixFeat, cfg.Defaults.WorktreePrefixFix)
	}
	if cfg.General.SyncIntervalMinutes != 15 {
		t.Errorf("sync interval = %d, want 15", cfg.General.SyncIntervalMinutes)
	}
	if cfg.General.PollIntervalSeconds != 5 {
		t.Errorf("poll interval = %d, want 5", cfg.General.PollIntervalSeconds)
	}
	if cfg.General.TickIntervalMS != 200 {
		t.Errorf("tick interval = %d, want 200", cfg.General.TickIntervalMS)
	}
}

func TestLoadFromPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[general]
workspace_root = "/srv/work"
poll_interval_seconds = 30

[defaults]
default_branch = "trunk"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.General.WorkspaceRoot != "/srv/work" {
		t.Errorf("workspace root = %q", cfg.General.WorkspaceRoot)
	}
	if cfg.Defaults.DefaultBranch != "trunk" {
		t.Errorf("default branch = %q", cfg.Defaults.DefaultBranch)
	}
	if cfg.General.PollIntervalSeconds != 30 {
		t.Errorf("poll interval = %d, want 30", cfg.General.PollIntervalSeconds)
	}
	// Unset fields keep their defaults.
	if cfg.General.SyncIntervalMinutes != 15 {
		t.Errorf("sync interval = %d, want 15", cfg.General.SyncIntervalMinutes)
	}
	if cfg.General.TickIntervalMS != 200 {
		t.Errorf("tick interval = %d, want 200", cfg.General.TickIntervalMS)
	}
	if cfg.Defaults.WorktreePrefixFix != "fix-" {
		t.Errorf("fix prefix = %q", cfg.Defaults.WorktreePrefixFix)
	}
}

func TestLoadFromMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[general\nbroken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestIntervals(t *testing.T) {
	cfg := Default()
	if got := cfg.SyncInterval(); got != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want 15m", got)
	}
	if got := cfg.PollInterval(); got != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", got)
	}
	if got := cfg.TickInterval(); got != 200*time.Millisecond {
		t.Errorf("TickInterval = %v, want 200ms", got)
	}
}
