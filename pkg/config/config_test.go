package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Sessions.TTL.Std() != 100*time.Minute {
		t.Errorf("session ttl = %s, want 100m", cfg.Sessions.TTL.Std())
	}
	if cfg.Sessions.RefreshTTL.Std() != 10*time.Minute {
		t.Errorf("session refresh ttl = %s, want 10m", cfg.Sessions.RefreshTTL.Std())
	}
	if cfg.Sync.Interval.Std() != 600*time.Second {
		t.Errorf("sync interval = %s, want 600s", cfg.Sync.Interval.Std())
	}
	if cfg.Workflow.PollInterval.Std() != 2*time.Second {
		t.Errorf("poll interval = %s, want 2s", cfg.Workflow.PollInterval.Std())
	}
	if cfg.Workflow.TickBudget != 3600 {
		t.Errorf("tick budget = %d, want 3600", cfg.Workflow.TickBudget)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  path: /var/lib/driver/driver.db
sync:
  interval: 5m
workflow:
  poll_interval: 1s
  tick_budget: 120
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Store.Path != "/var/lib/driver/driver.db" {
		t.Errorf("store path = %s", cfg.Store.Path)
	}
	if cfg.Sync.Interval.Std() != 5*time.Minute {
		t.Errorf("sync interval = %s, want 5m", cfg.Sync.Interval.Std())
	}
	if cfg.Workflow.TickBudget != 120 {
		t.Errorf("tick budget = %d, want 120", cfg.Workflow.TickBudget)
	}
	// Untouched sections keep their defaults.
	if cfg.Sessions.TTL.Std() != 100*time.Minute {
		t.Errorf("session ttl = %s, want the default 100m", cfg.Sessions.TTL.Std())
	}
}

func TestDurationForms(t *testing.T) {
	cfg, err := Parse([]byte(`
sessions:
  ttl: 6000
  refresh_ttl: 10m
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Sessions.TTL.Std() != 6000*time.Second {
		t.Errorf("numeric ttl = %s, want 6000s", cfg.Sessions.TTL.Std())
	}
	if cfg.Sessions.RefreshTTL.Std() != 10*time.Minute {
		t.Errorf("string refresh ttl = %s, want 10m", cfg.Sessions.RefreshTTL.Std())
	}
}

func TestValidationRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty store path", yaml: "store:\n  path: \"\"\n"},
		{name: "refresh longer than ttl", yaml: "sessions:\n  ttl: 5m\n  refresh_ttl: 10m\n"},
		{name: "zero sync interval", yaml: "sync:\n  interval: 0\n"},
		{name: "bad duration", yaml: "sync:\n  interval: soon\n"},
		{name: "bad log level", yaml: "telemetry:\n  logging:\n    level: shout\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Store.Path != "driver.db" {
		t.Errorf("store path = %s, want the default", cfg.Store.Path)
	}
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driver.yaml")
	writeConfigFile(t, path, "sync:\n  interval: 10m\n")

	w, err := NewWatcher(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watch goroutine a moment to start before writing.
	time.Sleep(50 * time.Millisecond)
	writeConfigFile(t, path, "sync:\n  interval: 3m\n")

	select {
	case cfg := <-reloaded:
		if cfg.Sync.Interval.Std() != 3*time.Minute {
			t.Errorf("reloaded interval = %s, want 3m", cfg.Sync.Interval.Std())
		}
		if w.Current().Sync.Interval.Std() != 3*time.Minute {
			t.Error("Current() not updated after reload")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driver.yaml")
	writeConfigFile(t, path, "sync:\n  interval: 10m\n")

	w, err := NewWatcher(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	writeConfigFile(t, path, "sync:\n  interval: [broken\n")
	time.Sleep(200 * time.Millisecond)

	if w.Current().Sync.Interval.Std() != 10*time.Minute {
		t.Errorf("interval = %s, want the last good 10m", w.Current().Sync.Interval.Std())
	}
}
