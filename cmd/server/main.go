// Package main is the entry point for the ingestion service. It wires every
// dependency via internal/di, starts the HTTP trigger/status server and the
// cron-driven scheduled ingestion, and shuts both down gracefully on signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/config"
	"github.com/aristath/ibkr-flexsync/internal/di"
	"github.com/aristath/ibkr-flexsync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogLevel == "debug",
	})

	log.Info().Str("account_id", cfg.AccountID).Msg("starting ibkr-flexsync")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer container.Close()

	go func() {
		if err := container.Server.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	container.Scheduler.Start()
	log.Info().Str("schedule", cfg.IngestionScheduleCron).Msg("scheduled ingestion armed")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("stopped")
}
