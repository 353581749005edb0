package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/config"
)

// New builds the streamer selected by configuration. When a canned
// table is configured alongside a model provider, lookups are tried
// first and misses fall through to the model.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Streamer, error) {
	var model Streamer
	switch cfg.AIProvider {
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel, log)
		if err != nil {
			return nil, err
		}
		model = g
	case "openai":
		o, err := NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, log)
		if err != nil {
			return nil, err
		}
		model = o
	case "canned":
		if cfg.CannedPath == "" {
			return nil, fmt.Errorf("%w: CANNED_PATH is empty", ErrNotConfigured)
		}
		return NewCanned(cfg.CannedPath)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.AIProvider)
	}

	if cfg.CannedPath != "" {
		canned, err := NewCanned(cfg.CannedPath)
		if err != nil {
			return nil, err
		}
		return NewFallback(canned, model), nil
	}
	return model, nil
}
