package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.BreakerFailureThreshold != 5 {
		t.Fatalf("BreakerFailureThreshold = %d, want 5", cfg.BreakerFailureThreshold)
	}
	if cfg.SynthesisTimeout != 30*time.Second {
		t.Fatalf("SynthesisTimeout = %v, want 30s", cfg.SynthesisTimeout)
	}
	if cfg.AudioChunkSize != 4096 {
		t.Fatalf("AudioChunkSize = %d, want 4096", cfg.AudioChunkSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "3")
	t.Setenv("BREAKER_RESET_TIMEOUT", "30s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want :9191", cfg.BindAddr)
	}
	if cfg.BreakerFailureThreshold != 3 {
		t.Fatalf("BreakerFailureThreshold = %d, want 3", cfg.BreakerFailureThreshold)
	}
	if cfg.BreakerResetTimeout != 30*time.Second {
		t.Fatalf("BreakerResetTimeout = %v, want 30s", cfg.BreakerResetTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for zero failure threshold")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SYNTHESIS_TIMEOUT", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected parse error")
	}
}
