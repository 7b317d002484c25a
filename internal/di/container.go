// Package di wires the process's components into a Container, following
// the teacher's staged construction order: databases -> repositories (here,
// the store's own typed methods) -> services -> scheduled jobs.
package di

import (
	"github.com/aristath/ibkr-flexsync/internal/config"
	"github.com/aristath/ibkr-flexsync/internal/flexclient"
	"github.com/aristath/ibkr-flexsync/internal/ingestion"
	"github.com/aristath/ibkr-flexsync/internal/scheduler"
	"github.com/aristath/ibkr-flexsync/internal/server"
	"github.com/aristath/ibkr-flexsync/internal/store"
)

// Container holds every long-lived dependency the process needs, the
// single source of truth handed to cmd/server/main.go after Wire returns.
type Container struct {
	Config       *config.Config
	DB           *store.DB
	FlexClient   *flexclient.Client
	Orchestrator *ingestion.Orchestrator
	Scheduler    *scheduler.Scheduler
	Server       *server.Server
}

// Close releases every closeable resource in the container, in reverse
// construction order.
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.FlexClient != nil {
		c.FlexClient.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
