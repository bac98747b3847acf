package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	if cfg.Version != Version {
		t.Errorf("version = %d, want %d", cfg.Version, Version)
	}
	if cfg.Pipeline.QueueSize != 50 {
		t.Errorf("queue_size = %d, want 50", cfg.Pipeline.QueueSize)
	}
	if !cfg.Pipeline.SupersedePending {
		t.Error("supersede_pending should default to true")
	}
	if cfg.Normalize.DefaultCurrency != "COP" {
		t.Errorf("default_currency = %s, want COP", cfg.Normalize.DefaultCurrency)
	}
	if !strings.Contains(cfg.IPC.SocketPath, "offerwatchd") {
		t.Errorf("socket path should live under offerwatchd: %s", cfg.IPC.SocketPath)
	}
	if !strings.Contains(cfg.Stats.Path, "offerwatchd") {
		t.Errorf("stats path should live under offerwatchd: %s", cfg.Stats.Path)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
version = 1

[pipeline]
queue_size = 25
suppression_window_ms = 750
supersede_pending = false

[normalize]
default_currency = "USD"
default_expiry_sec = 10

[decision]
min_net = 5000
daily_goal = 200000

[ipc]
socket_path = "/tmp/offerwatchd-test.sock"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pipeline.QueueSize != 25 {
		t.Errorf("queue_size = %d, want 25", cfg.Pipeline.QueueSize)
	}
	if cfg.Pipeline.SupersedePending {
		t.Error("supersede_pending should be false")
	}
	if cfg.Normalize.DefaultCurrency != "USD" {
		t.Errorf("default_currency = %s, want USD", cfg.Normalize.DefaultCurrency)
	}
	if cfg.Decision.MinNet != 5000 {
		t.Errorf("min_net = %f, want 5000", cfg.Decision.MinNet)
	}
	// Untouched sections keep their defaults.
	if cfg.Decision.FuelCostPerKm != 500 {
		t.Errorf("fuel_cost_per_km = %f, want default 500", cfg.Decision.FuelCostPerKm)
	}

	pcfg := cfg.PipelineConfigValue()
	if pcfg.SuppressionWindow != 750*time.Millisecond {
		t.Errorf("suppression window = %v, want 750ms", pcfg.SuppressionWindow)
	}
	ncfg := cfg.NormalizerConfigValue()
	if ncfg.DefaultExpiry != 10*time.Second {
		t.Errorf("default expiry = %v, want 10s", ncfg.DefaultExpiry)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
version: 1
pipeline:
  queue_size: 10
ipc:
  socket_path: /tmp/offerwatchd-test.sock
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.QueueSize != 10 {
		t.Errorf("queue_size = %d, want 10", cfg.Pipeline.QueueSize)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("expected error for missing file")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "config.ini")
	os.WriteFile(bad, []byte("x"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for unsupported extension")
	}

	malformed := filepath.Join(dir, "config.toml")
	os.WriteFile(malformed, []byte("version = [broken"), 0o600)
	if _, err := Load(malformed); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"wrong version", func(c *Config) { c.Version = 99 }},
		{"negative queue", func(c *Config) { c.Pipeline.QueueSize = -1 }},
		{"bad locale", func(c *Config) { c.Normalize.Locale = "not a tag!" }},
		{"bad currency", func(c *Config) { c.Normalize.DefaultCurrency = "XQZ" }},
		{"bad symbol map", func(c *Config) { c.Normalize.CurrencySymbols = map[string]string{"$": "NOPE"} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"stats without path", func(c *Config) { c.Stats.Enabled = true; c.Stats.Path = "" }},
		{"missing socket", func(c *Config) { c.IPC.SocketPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OFFERWATCHD_LOG_LEVEL", "debug")
	t.Setenv("OFFERWATCHD_SOCKET", "/tmp/override.sock")
	t.Setenv("OFFERWATCHD_RULES", "/tmp/rules.toml")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/tmp/override.sock" {
		t.Errorf("socket = %s, want /tmp/override.sock", cfg.IPC.SocketPath)
	}
	if cfg.Source.RulesPath != "/tmp/rules.toml" {
		t.Errorf("rules = %s, want /tmp/rules.toml", cfg.Source.RulesPath)
	}
}

func TestWatcherFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	if err := os.WriteFile(path, []byte("version = 1\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	changed := make(chan string, 4)
	w, err := NewWatcher(func(p string) { changed <- p })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounce = 20 * time.Millisecond
	if err := w.Add(path); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(path, []byte("version = 2\n"), 0o600); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case p := <-changed:
		if filepath.Base(p) != "rules.toml" {
			t.Errorf("changed path = %s, want rules.toml", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not fire")
	}

	// Changes to unwatched siblings stay silent.
	other := filepath.Join(dir, "other.txt")
	if err := os.WriteFile(other, []byte("x"), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	select {
	case p := <-changed:
		t.Errorf("unexpected callback for %s", p)
	case <-time.After(150 * time.Millisecond):
	}
}
