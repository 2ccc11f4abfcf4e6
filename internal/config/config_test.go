package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()

	if cfg.Run.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Run.Workers)
	}
	if cfg.Run.TaskTimeout != 120*time.Second {
		t.Errorf("TaskTimeout = %s, want 120s", cfg.Run.TaskTimeout)
	}
	if cfg.Limits.RequestsPerMinute != 50 {
		t.Errorf("RequestsPerMinute = %d, want 50", cfg.Limits.RequestsPerMinute)
	}
	if cfg.Limits.TokensPerMinute != 100000 {
		t.Errorf("TokensPerMinute = %d, want 100000", cfg.Limits.TokensPerMinute)
	}
	if cfg.Limits.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Limits.FailureThreshold)
	}
	if cfg.Limits.RecoveryTimeout != 30*time.Second {
		t.Errorf("RecoveryTimeout = %s, want 30s", cfg.Limits.RecoveryTimeout)
	}
	if cfg.Cache.MaxAge != 7*24*time.Hour {
		t.Errorf("Cache.MaxAge = %s, want 168h", cfg.Cache.MaxAge)
	}
	if cfg.Anthropic.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want claude-sonnet-4-5", cfg.Anthropic.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromPath_Overrides(t *testing.T) {
	path := writeConfig(t, `
run:
  workers: 8
  task_timeout: 90s
limits:
  requests_per_minute: 10
anthropic:
  model: claude-haiku-4-5
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Run.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Run.Workers)
	}
	if cfg.Run.TaskTimeout != 90*time.Second {
		t.Errorf("TaskTimeout = %s, want 90s", cfg.Run.TaskTimeout)
	}
	if cfg.Limits.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d, want 10", cfg.Limits.RequestsPerMinute)
	}
	if cfg.Anthropic.Model != "claude-haiku-4-5" {
		t.Errorf("Model = %q, want claude-haiku-4-5", cfg.Anthropic.Model)
	}
	// Untouched keys keep their defaults.
	if cfg.Limits.TokensPerMinute != 100000 {
		t.Errorf("TokensPerMinute = %d, want default 100000", cfg.Limits.TokensPerMinute)
	}
	if cfg.Limits.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", cfg.Limits.MaxAttempts)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadFromPath_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
run:
  workers: 0
`)

	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("TASKMILL_WORKERS", "9")
	t.Setenv("TASKMILL_MODEL", "claude-opus-4-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Run.Workers != 9 {
		t.Errorf("Workers = %d, want 9 from env", cfg.Run.Workers)
	}
	if cfg.Anthropic.Model != "claude-opus-4-5" {
		t.Errorf("Model = %q, want claude-opus-4-5 from env", cfg.Anthropic.Model)
	}
}

func TestLoad_ProjectConfigWinsOverUser(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, "taskmill"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	userCfg := "run:\n  workers: 2\nlimits:\n  requests_per_minute: 5\n"
	if err := os.WriteFile(filepath.Join(xdg, "taskmill", "config.yaml"), []byte(userCfg), 0o644); err != nil {
		t.Fatalf("write user config: %v", err)
	}

	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, ".taskmill.yaml"), []byte("run:\n  workers: 6\n"), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}
	t.Chdir(project)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Run.Workers != 6 {
		t.Errorf("Workers = %d, want 6 from project config", cfg.Run.Workers)
	}
	// User config still applies where the project file is silent.
	if cfg.Limits.RequestsPerMinute != 5 {
		t.Errorf("RequestsPerMinute = %d, want 5 from user config", cfg.Limits.RequestsPerMinute)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.Run.Workers = 0 }, true},
		{"negative rpm", func(c *Config) { c.Limits.RequestsPerMinute = -1 }, true},
		{"negative tpm", func(c *Config) { c.Limits.TokensPerMinute = -1 }, true},
		{"zero attempts", func(c *Config) { c.Limits.MaxAttempts = 0 }, true},
		{"zero ceilings allowed", func(c *Config) {
			c.Limits.RequestsPerMinute = 0
			c.Limits.TokensPerMinute = 0
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestGuardConfig_Mapping(t *testing.T) {
	cfg := Default()
	cfg.Run.TaskTimeout = 45 * time.Second
	cfg.Limits.MaxAttempts = 5

	gc := cfg.GuardConfig()

	if gc.Timeout != 45*time.Second {
		t.Errorf("Timeout = %s, want 45s", gc.Timeout)
	}
	if gc.RequestsPerMinute != 50 || gc.TokensPerMinute != 100000 {
		t.Errorf("ceilings = %d/%d, want 50/100000", gc.RequestsPerMinute, gc.TokensPerMinute)
	}
	if gc.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", gc.FailureThreshold)
	}
	if gc.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", gc.Retry.MaxAttempts)
	}
	if gc.Retry.InitialDelay == 0 || gc.Retry.Multiplier == 0 {
		t.Error("retry backoff fields should come from the default retrier")
	}
}
