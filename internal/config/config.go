// Package config loads webhook protocol constants from an optional YAML
// file with env overrides.
package config

import (
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v3"

	"poshub/internal/webhooks"
)

type fileConfig struct {
	Webhooks struct {
		LimitPerWindow   int `yaml:"limitPerWindow"`
		WindowMs         int `yaml:"windowMs"`
		FailureThreshold int `yaml:"failureThreshold"`
		CooldownMs       int `yaml:"cooldownMs"`
		MaxAttempts      int `yaml:"maxAttempts"`
		RetryDelayMs     int `yaml:"retryDelayMs"`
	} `yaml:"webhooks"`
}

// Load resolves dispatcher config: defaults, then the YAML file named by
// POSHUB_CONFIG (if set), then WEBHOOK_* env vars.
func Load() (webhooks.Config, error) {
	cfg := webhooks.DefaultConfig()

	if path := os.Getenv("POSHUB_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, err
		}
		applyInt(&cfg.LimitPerWindow, fc.Webhooks.LimitPerWindow)
		applyMs(&cfg.WindowDuration, fc.Webhooks.WindowMs)
		applyInt(&cfg.FailureThreshold, fc.Webhooks.FailureThreshold)
		applyMs(&cfg.Cooldown, fc.Webhooks.CooldownMs)
		applyInt(&cfg.MaxAttempts, fc.Webhooks.MaxAttempts)
		applyMs(&cfg.RetryDelay, fc.Webhooks.RetryDelayMs)
	}

	applyInt(&cfg.LimitPerWindow, envInt("WEBHOOK_LIMIT_PER_WINDOW"))
	applyMs(&cfg.WindowDuration, envInt("WEBHOOK_WINDOW_MS"))
	applyInt(&cfg.FailureThreshold, envInt("WEBHOOK_FAILURE_THRESHOLD"))
	applyMs(&cfg.Cooldown, envInt("WEBHOOK_COOLDOWN_MS"))
	applyInt(&cfg.MaxAttempts, envInt("WEBHOOK_MAX_ATTEMPTS"))
	applyMs(&cfg.RetryDelay, envInt("WEBHOOK_RETRY_DELAY_MS"))
	return cfg, nil
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func applyInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func applyMs(dst *time.Duration, ms int) {
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}
