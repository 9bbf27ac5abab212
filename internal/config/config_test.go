package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/paircal")
	t.Setenv("JWT_SECRET", "test-secret-0123456789abcdef")
}

func TestLoadRequiresMandatoryVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("missing required vars should fail")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("error should name missing vars: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.TokenMaxAge != 720*time.Hour {
		t.Errorf("TokenMaxAge = %v, want 720h", cfg.TokenMaxAge)
	}
	if cfg.PairCodeTTL != 15*time.Minute {
		t.Errorf("PairCodeTTL = %v, want 15m", cfg.PairCodeTTL)
	}
	if cfg.ReminderTick != 30*time.Second {
		t.Errorf("ReminderTick = %v, want 30s", cfg.ReminderTick)
	}
	if cfg.TombstoneRetention != 24*time.Hour {
		t.Errorf("TombstoneRetention = %v, want 24h", cfg.TombstoneRetention)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want 120", cfg.RateLimitGeneral)
	}
	if cfg.RateLimitPairing != 10 {
		t.Errorf("RateLimitPairing = %d, want 10", cfg.RateLimitPairing)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PAIR_CODE_TTL", "5m")
	t.Setenv("RATE_LIMIT_GENERAL", "60")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PairCodeTTL != 5*time.Minute {
		t.Errorf("PairCodeTTL = %v, want 5m", cfg.PairCodeTTL)
	}
	if cfg.RateLimitGeneral != 60 {
		t.Errorf("RateLimitGeneral = %d, want 60", cfg.RateLimitGeneral)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
}

func TestLoadIgnoresMalformedOptionals(t *testing.T) {
	setRequired(t)
	t.Setenv("PAIR_CODE_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_GENERAL", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// 不正な値はデフォルトに落ちる
	if cfg.PairCodeTTL != 15*time.Minute {
		t.Errorf("PairCodeTTL = %v, want default 15m", cfg.PairCodeTTL)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want default 120", cfg.RateLimitGeneral)
	}
}
