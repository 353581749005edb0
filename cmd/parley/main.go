package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/ai"
	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/retention"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("invalid configuration")
	}

	var logger zerolog.Logger
	if cfg.IsProduction() {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Thread store
	var threads store.ThreadStore
	switch cfg.StoreBackend {
	case "redis":
		rs, err := store.OpenRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		threads = rs
	default:
		ps, err := store.OpenPebble(filepath.Join(cfg.DataDir, "threads"), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("pebble open failed")
		}
		threads = ps
	}
	defer threads.Close()

	uploads, err := upload.NewStore(cfg.UploadDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("upload dir unavailable")
	}

	streamer, err := ai.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("ai provider init failed")
	}

	registry := chat.NewRegistry()

	if cfg.RetentionSchedule != "" {
		sweeper, err := retention.New(threads, cfg.RetentionSchedule, cfg.RetentionTTL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid retention settings")
		}
		go sweeper.Run(ctx)
	}

	// Router
	r := chi.NewRouter()
	r.Use(api.Metrics)
	r.Use(chimw.RealIP)
	r.Use(api.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := api.NewHandler(threads, streamer, uploads, registry, cfg, logger)
	h.Mount(r)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Int("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreBackend).
			Str("ai_provider", cfg.AIProvider).
			Msg("starting parley server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}

	// Chat connections are hijacked and outside Shutdown's reach.
	// Closing their sessions cancels in-flight turns and drains them.
	registry.CloseAll()
	cancel()

	logger.Info().Msg("server stopped")
}
