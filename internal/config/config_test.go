package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIntakeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yaml")
	content := `
watch_root: /srv/users
queue_dir: /srv/queue
failed_dir: /srv/failed
debounce: 500ms
workers: 4
db_path: /srv/intake.db
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadIntakeConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.WatchRoot != "/srv/users" || cfg.QueueDir != "/srv/queue" || cfg.FailedDir != "/srv/failed" {
		t.Errorf("unexpected dirs %+v", cfg)
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("expected 500ms debounce, got %v", cfg.Debounce)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	// untouched fields keep their defaults
	if cfg.DescriptorName != DefaultDescriptorName || cfg.Settle != DefaultSettle {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadIntakeConfig_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yaml")
	os.WriteFile(path, nil, 0644)

	cfg, err := LoadIntakeConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WatchRoot != Default().WatchRoot {
		t.Errorf("expected default watch root, got %s", cfg.WatchRoot)
	}
}

func TestLoadIntakeConfig_Missing(t *testing.T) {
	if _, err := LoadIntakeConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("expected error for missing config file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"INTAKE_QUEUE_DIR": "/env/queue",
		"INTAKE_DEBOUNCE":  "1s",
		"INTAKE_WORKERS":   "3",
	}
	cfg := Default()
	if err := cfg.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.QueueDir != "/env/queue" || cfg.Debounce != time.Second || cfg.Workers != 3 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	env["INTAKE_WORKERS"] = "many"
	if err := Default().applyEnv(func(k string) string { return env[k] }); err == nil {
		t.Errorf("expected error for non-numeric INTAKE_WORKERS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*IntakeConfig)
		ok     bool
	}{
		{"defaults", func(c *IntakeConfig) {}, true},
		{"no watch root", func(c *IntakeConfig) { c.WatchRoot = "" }, false},
		{"no queue dir", func(c *IntakeConfig) { c.QueueDir = "" }, false},
		{"zero workers", func(c *IntakeConfig) { c.Workers = 0 }, false},
		{"negative debounce", func(c *IntakeConfig) { c.Debounce = -time.Second }, false},
		{"status without db", func(c *IntakeConfig) { c.StatusAddr = ":8090" }, false},
		{"status without token", func(c *IntakeConfig) { c.StatusAddr = ":8090"; c.DBPath = "intake.db" }, false},
		{"status with db and token", func(c *IntakeConfig) {
			c.StatusAddr = ":8090"
			c.DBPath = "intake.db"
			c.StatusToken = "secret"
		}, true},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
