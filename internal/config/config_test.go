package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefault verifies the default policy values.
func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Policy.StalenessThreshold.Std() != 24*time.Hour {
		t.Errorf("staleness threshold = %v, want 24h", cfg.Policy.StalenessThreshold.Std())
	}
	if cfg.Policy.AmbiguityGuard.Std() != 5*time.Second {
		t.Errorf("ambiguity guard = %v, want 5s", cfg.Policy.AmbiguityGuard.Std())
	}
	if cfg.Policy.CombineSeparator == "" {
		t.Error("combine separator should have a default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestLoadFromFile verifies YAML parsing with duration strings.
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
data_dir: /tmp/carelog
policy:
  staleness_threshold: 12h
  ambiguity_guard: 2s
notifications:
  buffer_size: 16
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.DataDir != "/tmp/carelog" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Policy.StalenessThreshold.Std() != 12*time.Hour {
		t.Errorf("staleness threshold = %v, want 12h", cfg.Policy.StalenessThreshold.Std())
	}
	if cfg.Policy.AmbiguityGuard.Std() != 2*time.Second {
		t.Errorf("ambiguity guard = %v, want 2s", cfg.Policy.AmbiguityGuard.Std())
	}
	if cfg.Notifications.BufferSize != 16 {
		t.Errorf("buffer size = %d, want 16", cfg.Notifications.BufferSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	// Unset fields keep defaults
	if cfg.Policy.CombineSeparator != Default().Policy.CombineSeparator {
		t.Errorf("combine separator should default, got %q", cfg.Policy.CombineSeparator)
	}
}

// TestLoadFromFileInvalid verifies validation failures are surfaced.
func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
policy:
  staleness_threshold: -1h
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for negative staleness threshold")
	}
}

// TestSaveRoundTrip verifies save-then-load preserves values.
func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.Policy.AmbiguityGuard = Duration(10 * time.Second)

	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if loaded.Policy.AmbiguityGuard.Std() != 10*time.Second {
		t.Errorf("ambiguity guard = %v, want 10s", loaded.Policy.AmbiguityGuard.Std())
	}
}
