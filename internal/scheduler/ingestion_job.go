package scheduler

import (
	"context"

	"github.com/aristath/ibkr-flexsync/internal/ingestion"
	"github.com/aristath/ibkr-flexsync/internal/store"
)

// IngestionJob triggers a scheduled ingestion run (spec §4.1, RunTriggerScheduled).
type IngestionJob struct {
	orchestrator *ingestion.Orchestrator
}

// NewIngestionJob wraps orch as a scheduler.Job.
func NewIngestionJob(orch *ingestion.Orchestrator) *IngestionJob {
	return &IngestionJob{orchestrator: orch}
}

func (j *IngestionJob) Name() string { return "scheduled_ingestion" }

// Run triggers one ingestion pass. A rejection because another run is
// already active is expected overlap behavior, not a job failure (spec
// §4.1's RUN_ALREADY_ACTIVE semantics), so it is swallowed here rather than
// logged as a job error by the scheduler.
func (j *IngestionJob) Run() error {
	_, err := j.orchestrator.Trigger(context.Background(), store.RunTriggerScheduled)
	if err == store.ErrRunAlreadyActive {
		return nil
	}
	return err
}
