package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LimitPerWindow != 5 || cfg.WindowDuration != time.Minute {
		t.Fatalf("limiter defaults: %+v", cfg)
	}
	if cfg.FailureThreshold != 3 || cfg.Cooldown != 30*time.Second {
		t.Fatalf("breaker defaults: %+v", cfg)
	}
	if cfg.MaxAttempts != 3 || cfg.RetryDelay != 30*time.Second {
		t.Fatalf("retry defaults: %+v", cfg)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poshub.yaml")
	data := []byte("webhooks:\n  limitPerWindow: 10\n  windowMs: 5000\n  maxAttempts: 7\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("POSHUB_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LimitPerWindow != 10 || cfg.WindowDuration != 5*time.Second || cfg.MaxAttempts != 7 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	// unset fields keep defaults
	if cfg.FailureThreshold != 3 {
		t.Fatalf("threshold should default: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poshub.yaml")
	if err := os.WriteFile(path, []byte("webhooks:\n  limitPerWindow: 10\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("POSHUB_CONFIG", path)
	t.Setenv("WEBHOOK_LIMIT_PER_WINDOW", "20")
	t.Setenv("WEBHOOK_COOLDOWN_MS", "1500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LimitPerWindow != 20 {
		t.Fatalf("env should win over file: %+v", cfg)
	}
	if cfg.Cooldown != 1500*time.Millisecond {
		t.Fatalf("cooldown override: %+v", cfg)
	}
}

func TestLoadIgnoresInvalidEnv(t *testing.T) {
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "banana")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("invalid env should be ignored: %+v", cfg)
	}
}
