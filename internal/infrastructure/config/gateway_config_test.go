package config

import (
	"os"
	"testing"
)

func TestLoadGateway_Defaults(t *testing.T) {
	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if !cfg.RateLimitEnabled {
		t.Error("expected rate limiting enabled by default")
	}
}

func TestLoadGateway_EnvOverride(t *testing.T) {
	os.Setenv("PORT", "9999")
	os.Setenv("RATE_LIMIT_MAX", "10")
	defer os.Unsetenv("PORT")
	defer os.Unsetenv("RATE_LIMIT_MAX")

	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("expected env-overridden port 9999, got %d", cfg.Port)
	}
	if cfg.RateLimitMax != 10 {
		t.Errorf("expected env-overridden rate_limit_max 10, got %d", cfg.RateLimitMax)
	}
}

func TestLoadBackends_MissingFileErrors(t *testing.T) {
	_, err := LoadBackends("/nonexistent/backends.yaml")
	if err == nil {
		t.Fatal("expected error for missing backends config")
	}
}
