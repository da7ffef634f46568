package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tiergate/internal/api/v1/router"
	"tiergate/internal/config"
	"tiergate/internal/logger"
	"tiergate/internal/service"
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

	// 2. Fill missing secrets from Secret Manager when a project is configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()
	if cfg.GCPProjectID != "" {
		loader, err := service.NewSecretLoader(bootCtx, cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to create secret loader: %v", err)
		}
		if err := loader.PopulateConfig(bootCtx, cfg); err != nil {
			logger.Fatal().Msgf("Failed to load secrets: %v", err)
		}
		_ = loader.Close()
	}
	if cfg.JWTSecret == "" || cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		logger.Fatal().Msg("JWT and Stripe secrets must be set via env or Secret Manager")
	}

	// 3. Build router (and get DB pool)
	r, pool, err := router.New(bootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to build router: %v", err)
	}
	defer pool.Close()

	// 4. Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 5. Start server in a goroutine
	go func() {
		logger.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Msgf("Listen: %s", err)
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Msgf("Server forced to shutdown: %v", err)
	}
	logger.Info().Msg("Server shut down gracefully")
}
