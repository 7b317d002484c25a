package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ibkr-flexsync/internal/config"
	"github.com/aristath/ibkr-flexsync/internal/flexclient"
	"github.com/aristath/ibkr-flexsync/internal/ingestion"
	"github.com/aristath/ibkr-flexsync/internal/scheduler"
	"github.com/aristath/ibkr-flexsync/internal/server"
	"github.com/aristath/ibkr-flexsync/internal/store"
)

// Wire initializes every dependency and returns a fully configured
// Container. Order of operations, mirroring the teacher's staged Wire:
//  1. store (database)
//  2. flexclient (the only external transport this process has)
//  3. ingestion orchestrator, built on 1 and 2
//  4. scheduler, registering the orchestrator's scheduled trigger job
//  5. HTTP server, exposing the trigger/status endpoints
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := initStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	client, err := initFlexClient(cfg, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize flex client: %w", err)
	}

	orch, err := initOrchestrator(cfg, db, client, log)
	if err != nil {
		client.Close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize ingestion orchestrator: %w", err)
	}

	sched, err := initScheduler(cfg, orch, log)
	if err != nil {
		client.Close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	srv := server.New(server.Config{
		Port:         cfg.Port,
		Log:          log,
		DB:           db,
		Orchestrator: orch,
		DevMode:      cfg.LogLevel == "debug",
	})

	log.Info().Msg("dependency injection wiring completed successfully")

	return &Container{
		Config:       cfg,
		DB:           db,
		FlexClient:   client,
		Orchestrator: orch,
		Scheduler:    sched,
		Server:       srv,
	}, nil
}

func initStore(cfg *config.Config, log zerolog.Logger) (*store.DB, error) {
	db, err := store.New(store.Config{DatabaseURL: cfg.DatabaseURL}, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

func initFlexClient(cfg *config.Config, log zerolog.Logger) (*flexclient.Client, error) {
	retry := flexclient.RetryConfig{
		InitialWait:         time.Duration(cfg.InitialWaitSeconds) * time.Second,
		Attempts:            cfg.RetryAttempts,
		BackoffBase:         time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		BackoffMax:          time.Duration(cfg.BackoffMaxSeconds) * time.Second,
		JitterMinMultiplier: cfg.JitterMinMultiplier,
		JitterMaxMultiplier: cfg.JitterMaxMultiplier,
	}
	return flexclient.New(retry, 30*time.Second, log), nil
}

func initOrchestrator(cfg *config.Config, db *store.DB, client *flexclient.Client, log zerolog.Logger) (*ingestion.Orchestrator, error) {
	loc, err := cfg.BusinessLocation()
	if err != nil {
		return nil, err
	}
	return ingestion.New(db, client, cfg.AccountID, cfg.FlexToken, cfg.FlexQueryID, cfg.BaseCurrency, loc, log), nil
}

func initScheduler(cfg *config.Config, orch *ingestion.Orchestrator, log zerolog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.IngestionScheduleCron, scheduler.NewIngestionJob(orch)); err != nil {
		return nil, fmt.Errorf("failed to register scheduled ingestion job: %w", err)
	}
	return sched, nil
}
