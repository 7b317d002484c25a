// Command reprocess replays already-downloaded raw artifacts through mapping
// and valuation without contacting the Flex Web Service again. With no
// -artifact flag it replays every artifact on record for the configured
// account; with one, it replays that artifact alone.
package main

import (
	"context"
	"flag"

	"github.com/aristath/ibkr-flexsync/internal/config"
	"github.com/aristath/ibkr-flexsync/internal/di"
	"github.com/aristath/ibkr-flexsync/pkg/logger"
)

func main() {
	artifactID := flag.String("artifact", "", "raw artifact id to reprocess (default: every artifact on record)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogLevel == "debug"})

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer container.Close()

	result, err := container.Orchestrator.Reprocess(context.Background(), *artifactID)
	if err != nil {
		log.Fatal().Err(err).Msg("reprocess failed")
	}

	log.Info().
		Str("run_id", result.RunID).
		Str("status", string(result.Status)).
		Msg("reprocess finished")
}
