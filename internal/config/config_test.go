package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadMissingImplicitFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing planwright.yml must not be an error: %v", err)
	}
	if cfg.Storage.Path != "planwright.db" {
		t.Errorf("expected default storage path, got %q", cfg.Storage.Path)
	}
	if cfg.Pipeline.DefaultThreshold != 70 {
		t.Errorf("expected default threshold 70, got %d", cfg.Pipeline.DefaultThreshold)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("explicit missing config path must be an error")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planwright.yml")
	contents := `storage:
  path: /var/lib/planwright/engine.db
pipeline:
  default_threshold: 80
  thresholds:
    ideation: 60
    tasking: 90
  max_self_iterations: 3
instance:
  heartbeat_seconds: 10
  stale_after_seconds: 60
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "/var/lib/planwright/engine.db" {
		t.Errorf("storage path not applied: %q", cfg.Storage.Path)
	}
	if cfg.Pipeline.DefaultThreshold != 80 {
		t.Errorf("default threshold not applied: %d", cfg.Pipeline.DefaultThreshold)
	}
	thresholds := cfg.PhaseThresholds()
	if thresholds["ideation"] != 60 || thresholds["tasking"] != 90 {
		t.Errorf("per-phase thresholds not applied: %v", thresholds)
	}
	// Untouched sections keep their defaults
	if cfg.AI.MaxTokens != 8192 {
		t.Errorf("ai defaults lost: %d", cfg.AI.MaxTokens)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planwright.yml")
	if err := os.WriteFile(path, []byte("pipeline:\n  default_threshold: 80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLANWRIGHT_PIPELINE_DEFAULT_THRESHOLD", "90")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.DefaultThreshold != 90 {
		t.Errorf("environment must win over file, got %d", cfg.Pipeline.DefaultThreshold)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty storage path", func(c *Config) { c.Storage.Path = " " }},
		{"threshold above 100", func(c *Config) { c.Pipeline.DefaultThreshold = 101 }},
		{"unknown phase threshold", func(c *Config) { c.Pipeline.Thresholds = map[string]int{"shipping": 70} }},
		{"zero self iterations", func(c *Config) { c.Pipeline.MaxSelfIterations = 0 }},
		{"stale under twice heartbeat", func(c *Config) {
			c.Instance.HeartbeatSeconds = 60
			c.Instance.StaleAfterSeconds = 90
		}},
		{"token ttl too short", func(c *Config) { c.Server.TokenTTLMinutes = 1 }},
		{"timeout too small", func(c *Config) { c.AI.TimeoutSeconds = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
