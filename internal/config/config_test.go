package config

import (
	"reflect"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS", "DATA_DIR", "STORE_BACKEND",
		"REDIS_URL", "AI_PROVIDER", "GEMINI_API_KEY", "GEMINI_MODEL",
		"OPENAI_API_KEY", "OPENAI_MODEL", "CANNED_PATH", "UPLOAD_DIR",
		"TURN_TIMEOUT", "OUTBOUND_BUFFER", "RETENTION_SCHEDULE", "RETENTION_TTL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Env != "development" || cfg.IsProduction() {
		t.Errorf("Env = %q, IsProduction() = %v", cfg.Env, cfg.IsProduction())
	}
	if cfg.StoreBackend != "pebble" {
		t.Errorf("StoreBackend = %q, want pebble", cfg.StoreBackend)
	}
	if cfg.AIProvider != "gemini" {
		t.Errorf("AIProvider = %q, want gemini", cfg.AIProvider)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"*"}) {
		t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
	}
	if cfg.OutboundBuffer != 64 {
		t.Errorf("OutboundBuffer = %d, want 64", cfg.OutboundBuffer)
	}
	if cfg.TurnTimeout != 0 {
		t.Errorf("TurnTimeout = %v, want 0", cfg.TurnTimeout)
	}
	if cfg.RetentionTTL != 720*time.Hour {
		t.Errorf("RetentionTTL = %v, want 720h", cfg.RetentionTTL)
	}
	if cfg.UploadDir != "data/uploads" {
		t.Errorf("UploadDir = %q, want data/uploads", cfg.UploadDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("ENV", "production")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("AI_PROVIDER", "canned")
	t.Setenv("CANNED_PATH", "/etc/parley/replies.yaml")
	t.Setenv("TURN_TIMEOUT", "45s")
	t.Setenv("OUTBOUND_BUFFER", "8")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}
	if cfg.StoreBackend != "redis" {
		t.Errorf("StoreBackend = %q, want redis", cfg.StoreBackend)
	}
	if cfg.CannedPath != "/etc/parley/replies.yaml" {
		t.Errorf("CannedPath = %q", cfg.CannedPath)
	}
	if cfg.TurnTimeout != 45*time.Second {
		t.Errorf("TurnTimeout = %v, want 45s", cfg.TurnTimeout)
	}
	if cfg.OutboundBuffer != 8 {
		t.Errorf("OutboundBuffer = %d, want 8", cfg.OutboundBuffer)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Errorf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown store backend", "STORE_BACKEND", "cassandra"},
		{"unknown ai provider", "AI_PROVIDER", "clippy"},
		{"non-positive buffer", "OUTBOUND_BUFFER", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"*", []string{"*"}},
		{"a,b", []string{"a", "b"}},
		{" a , b ,", []string{"a", "b"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
