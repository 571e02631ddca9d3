package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.DB != DefaultDBPath {
		t.Errorf("DB = %q, want %q", cfg.DB, DefaultDBPath)
	}
	if cfg.ReplayStorageBackend != "local" {
		t.Errorf("ReplayStorageBackend = %q, want local", cfg.ReplayStorageBackend)
	}
	if cfg.ScreenWidth != DefaultScreenWidth || cfg.ScreenHeight != DefaultScreenHeight {
		t.Errorf("screen = %dx%d", cfg.ScreenWidth, cfg.ScreenHeight)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DRAWBRIDGE_PORT", "9000")
	t.Setenv("DRAWBRIDGE_DB", "/tmp/test.db")
	t.Setenv("DRAWBRIDGE_GUACD_HOST", "10.0.0.1")
	t.Setenv("DRAWBRIDGE_GATEWAY_RATE_LIMIT", "2.5")
	t.Setenv("DRAWBRIDGE_GATEWAY_BURST", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.DB != "/tmp/test.db" {
		t.Errorf("DB = %q", cfg.DB)
	}
	if cfg.GuacdHost != "10.0.0.1" {
		t.Errorf("GuacdHost = %q", cfg.GuacdHost)
	}
	if cfg.GatewayRateLimit != 2.5 || cfg.GatewayBurst != 5 {
		t.Errorf("rate limit = %v burst %d", cfg.GatewayRateLimit, cfg.GatewayBurst)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-integer port", "DRAWBRIDGE_PORT", "eighty"},
		{"zero port", "DRAWBRIDGE_PORT", "0"},
		{"non-numeric rate", "DRAWBRIDGE_GATEWAY_RATE_LIMIT", "fast"},
		{"negative rate", "DRAWBRIDGE_GATEWAY_RATE_LIMIT", "-1"},
		{"relative file home", "DRAWBRIDGE_REMOTE_FILE_HOME", "home/jms"},
		{"unknown backend", "DRAWBRIDGE_REPLAY_STORAGE_BACKEND", "ftp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestValidateS3Backend(t *testing.T) {
	t.Setenv("DRAWBRIDGE_REPLAY_STORAGE_BACKEND", "s3")
	if _, err := Load(); err == nil {
		t.Error("s3 backend without a bucket should fail validation")
	}

	t.Setenv("DRAWBRIDGE_REPLAY_S3_BUCKET", "replays")
	if _, err := Load(); err != nil {
		t.Errorf("s3 backend with bucket: %v", err)
	}

	// One credential without the other is a misconfiguration.
	t.Setenv("DRAWBRIDGE_REPLAY_S3_ACCESS_KEY_ID", "AKIA")
	if _, err := Load(); err == nil {
		t.Error("access key without secret should fail validation")
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "DRAWBRIDGE_PORT", Message: "bad port"},
		{Field: "DRAWBRIDGE_DB", Message: "bad path"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "DRAWBRIDGE_PORT: bad port") || !strings.Contains(msg, "DRAWBRIDGE_DB: bad path") {
		t.Errorf("message = %q", msg)
	}
}

func TestGuacdAddr(t *testing.T) {
	cfg := &Config{GuacdHost: "127.0.0.1", GuacdPort: 4822}
	if got := cfg.GuacdAddr(); got != "127.0.0.1:4822" {
		t.Errorf("GuacdAddr() = %q", got)
	}
}

func TestLoadWithFlags(t *testing.T) {
	cfg, err := LoadWithFlags(9999, "/tmp/override.db")
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}
	if cfg.Port != 9999 || cfg.DB != "/tmp/override.db" {
		t.Errorf("port = %d db = %q", cfg.Port, cfg.DB)
	}

	// Flag values matching the defaults leave env-derived settings alone.
	t.Setenv("DRAWBRIDGE_PORT", "9100")
	cfg, err = LoadWithFlags(DefaultPort, DefaultDBPath)
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("port = %d, want env value 9100", cfg.Port)
	}
}
