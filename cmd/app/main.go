package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fileshare/internal/api/v1/router"
	"fileshare/internal/config"
	"fileshare/internal/logger"
	"fileshare/internal/secrets"

	"github.com/joho/godotenv"
)

func main() {
	logger := logger.New()

	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Provider secrets from Secret Manager
	if cfg.SecretsFromGCP {
		mgr, err := secrets.NewManager(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Fatal().Msgf("Failed to create secret manager client: %v", err)
		}
		if err := secrets.Resolve(ctx, mgr, cfg); err != nil {
			logger.Fatal().Msgf("Failed to resolve secrets: %v", err)
		}
		mgr.Close()
	}

	// 3. Wire services and router
	app, err := router.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to build router: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		logger.Fatal().Msgf("Failed to start background workers: %v", err)
	}

	// 4. Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Msgf("Listen: %s", err)
		}
	}()

	// 5. Graceful shutdown
	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Background workers did not stop cleanly")
	}
	logger.Info().Msg("Server shut down gracefully")
}
