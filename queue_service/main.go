package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/engine"
	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/scheduler"
	"github.com/itskum47/waitroom/queue_service/store"
	"github.com/itskum47/waitroom/queue_service/token"
)

func main() {
	cfg := LoadConfig()
	logger := newLogger(cfg)

	// Only missing mandatory configuration is fatal; unreachable stores
	// are not. The service starts degraded and recovers on its own.
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}
	if cfg.AdminAPIKey == "" {
		logger.Fatal().Msg("ADMIN_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queueStore := store.NewRedisQueueStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer queueStore.Close()

	metaStore, err := store.NewPostgresMetaStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid DATABASE_URL")
	}
	defer metaStore.Close()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := queueStore.Ping(probeCtx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("queue store unreachable at startup, continuing degraded")
	} else {
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to queue store")
	}
	if err := metaStore.Bootstrap(probeCtx); err != nil {
		logger.Warn().Err(err).Msg("metadata store bootstrap failed, continuing degraded")
	} else {
		logger.Info().Msg("metadata store ready")
	}
	cancel()

	health := resilience.NewHealth()
	eng := engine.New(queueStore, metaStore, logger.With().Str("component", "engine").Logger())
	registry := token.NewRegistry(metaStore, logger.With().Str("component", "tokens").Logger())

	sched := scheduler.New(metaStore, queueStore, eng, health,
		logger.With().Str("component", "scheduler").Logger())
	sched.Start(ctx)
	defer sched.Stop()

	hub := NewStatsHub(metaStore, eng, health, logger.With().Str("component", "stream").Logger())
	go hub.Run(ctx)

	api := NewAPI(eng, metaStore, registry, health, hub, logger.With().Str("component", "api").Logger())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(cfg.AdminAPIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("waitroom queue service listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("waitroom queue service stopped")
}

// newLogger builds the process logger: console output, optionally teed
// into LOG_DIR/waitroom.log.
func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.LogDir != "" {
		f, ferr := os.OpenFile(filepath.Join(cfg.LogDir, "waitroom.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if ferr == nil {
			w = zerolog.MultiLevelWriter(w, f)
		}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
