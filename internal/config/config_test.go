package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "APP_ENV", "PORT", "MAX_UPLOAD_MB", "MAX_BATCH_SIZE", "WORKER_CONCURRENCY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want dev", cfg.AppEnv)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxUploadMB != 500 {
		t.Errorf("MaxUploadMB = %d, want 500", cfg.MaxUploadMB)
	}
	if cfg.MaxBatchSize != 20 {
		t.Errorf("MaxBatchSize = %d, want 20", cfg.MaxBatchSize)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Errorf("WorkerConcurrency = %d, want 2", cfg.WorkerConcurrency)
	}
	if cfg.RetryInitialDelay != 5*time.Second {
		t.Errorf("RetryInitialDelay = %v, want 5s", cfg.RetryInitialDelay)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t, "APP_ENV", "MAX_BATCH_SIZE")
	_ = os.Setenv("APP_ENV", "prod")
	_ = os.Setenv("MAX_BATCH_SIZE", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IsProd() {
		t.Errorf("expected IsProd() true")
	}
	if cfg.MaxBatchSize != 5 {
		t.Errorf("MaxBatchSize = %d, want 5", cfg.MaxBatchSize)
	}
}

func TestInpaintConfigured(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		enabled bool
		want    bool
	}{
		{"empty url", "", true, false},
		{"localhost forces fallback", "http://localhost:9000", true, false},
		{"loopback forces fallback", "http://127.0.0.1:9000", true, false},
		{"feature disabled", "http://inpaint.internal", false, false},
		{"configured and enabled", "http://inpaint.internal", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{InpaintBackendURL: tt.url, FeatureInpaint: tt.enabled}
			if got := cfg.InpaintConfigured(); got != tt.want {
				t.Errorf("InpaintConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeatureFlags(t *testing.T) {
	cfg := Config{FeatureWebhookNotifications: true, FeatureCustomCrop: false}
	flags := cfg.FeatureFlags()
	if flags["webhook_notifications"] != true {
		t.Errorf("webhook_notifications flag mismatch")
	}
	if flags["custom_crop"] != false {
		t.Errorf("custom_crop flag mismatch")
	}
	if flags["inpaint"] != false {
		t.Errorf("inpaint flag should be false without a configured backend")
	}
}
