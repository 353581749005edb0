// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	Env         string
	LogLevel    string
	CORSOrigins []string

	DataDir      string
	StoreBackend string
	RedisURL     string

	AIProvider  string
	GeminiKey   string
	GeminiModel string
	OpenAIKey   string
	OpenAIModel string
	CannedPath  string

	UploadDir      string
	TurnTimeout    time.Duration
	OutboundBuffer int

	RetentionSchedule string
	RetentionTTL      time.Duration
}

// Load reads configuration from the environment, consulting a .env file
// if one exists. Missing values fall back to development defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnvInt("PORT", 8080),
		Env:               getEnv("ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
		DataDir:           getEnv("DATA_DIR", "./data"),
		StoreBackend:      getEnv("STORE_BACKEND", "pebble"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AIProvider:        getEnv("AI_PROVIDER", "gemini"),
		GeminiKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		CannedPath:        getEnv("CANNED_PATH", ""),
		TurnTimeout:       getEnvDuration("TURN_TIMEOUT", 0),
		OutboundBuffer:    getEnvInt("OUTBOUND_BUFFER", 64),
		RetentionSchedule: getEnv("RETENTION_SCHEDULE", ""),
		RetentionTTL:      getEnvDuration("RETENTION_TTL", 720*time.Hour),
	}
	cfg.UploadDir = getEnv("UPLOAD_DIR", filepath.Join(cfg.DataDir, "uploads"))

	switch cfg.StoreBackend {
	case "pebble", "redis":
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	switch cfg.AIProvider {
	case "gemini", "openai", "canned":
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
	if cfg.OutboundBuffer < 1 {
		return nil, fmt.Errorf("OUTBOUND_BUFFER must be positive, got %d", cfg.OutboundBuffer)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
