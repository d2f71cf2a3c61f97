package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/repairdesk/backend/internal/cache"
	"github.com/repairdesk/backend/internal/config"
	"github.com/repairdesk/backend/internal/db"
	httpapi "github.com/repairdesk/backend/internal/http"
	"github.com/repairdesk/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "repairdesk-ledger").Str("env", cfg.Env).Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
	}

	summaries, closeCache, err := cache.New(ctx, cfg.RedisURL, cfg.SummaryCacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer func() {
		if err := closeCache(); err != nil {
			logger.Warn().Err(err).Msg("failed to close cache")
		}
	}()
	if cfg.RedisURL == "" {
		logger.Info().Msg("summary cache disabled")
	}

	svc := &service.CommissionService{
		Store:  store,
		Cache:  summaries,
		Logger: logger.With().Str("component", "commission").Logger(),
	}

	router := httpapi.Router(cfg, store, svc, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
