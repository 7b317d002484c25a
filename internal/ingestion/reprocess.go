package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/canonical"
	"github.com/aristath/ibkr-flexsync/internal/diagnostics"
	"github.com/aristath/ibkr-flexsync/internal/store"
)

// mappedSections are the only sections canonical mapping routes; reprocess
// only needs to reload rows under these (spec §4.5's row routing table).
var mappedSections = []string{"Trades", "CashTransactions", "ConversionRates", "CorporateActions", "OpenPositions"}

// Reprocess replays canonical_mapping and snapshot over already-persisted
// raw rows, skipping request/poll/download entirely (spec §4.10). An empty
// artifactID replays every artifact stored for the account (full replay);
// a non-empty one scopes the replay to that artifact, the closest analogue
// this store's content-addressed artifact model has to a Flex period key
// (see DESIGN.md).
func (o *Orchestrator) Reprocess(ctx context.Context, artifactID string) (*Result, error) {
	run, err := o.db.StartRun(ctx, o.accountID, store.RunTriggerReprocess)
	if err != nil {
		return nil, err
	}

	timeline := diagnostics.NewTimeline()
	status, errCode, errMsg := o.reprocess(ctx, run.ID, artifactID, timeline)

	diagBytes, _ := json.Marshal(timeline)
	if finishErr := o.db.FinishRun(context.WithoutCancel(ctx), run.ID, status, string(errCode), errMsg, diagBytes); finishErr != nil {
		o.log.Error().Err(finishErr).Str("run_id", run.ID).Msg("failed to finalize reprocess run")
		return nil, finishErr
	}

	return &Result{RunID: run.ID, Status: status}, nil
}

func (o *Orchestrator) reprocess(ctx context.Context, runID, artifactID string, timeline *diagnostics.Timeline) (store.RunStatus, Code, string) {
	artifactIDs, err := o.reprocessScope(ctx, artifactID)
	if err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	started := time.Now().UTC()
	var rawRows []*store.RawRecord
	for _, id := range artifactIDs {
		for _, section := range mappedSections {
			rows, err := o.db.RawRecordsBySection(ctx, id, section)
			if err != nil {
				timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusFailed, started, time.Now().UTC(), nil)
				code, msg := classify(err)
				return store.RunStatusFailed, code, msg
			}
			rawRows = append(rawRows, rows...)
		}
	}

	if len(rawRows) == 0 {
		timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusSuccess, started, time.Now().UTC(),
			diagnostics.CanonicalMappingPayload{SkipReason: "no_new_raw_rows_for_run"})
		timeline.Append(diagnostics.StageSnapshot, diagnostics.StatusSuccess, started, time.Now().UTC(),
			diagnostics.SnapshotPayload{InstrumentsSnapshotted: 0})
		return store.RunStatusSucceeded, "", ""
	}

	batch, err := canonical.BuildCanonicalBatch(o.accountID, runID, rawRows)
	if err != nil {
		timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusFailed, started, time.Now().UTC(), nil)
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	applyResult, err := canonical.ApplyBatch(ctx, o.db, runID, batch)
	ended := time.Now().UTC()
	if err != nil {
		timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusFailed, started, ended, nil)
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}
	timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusSuccess, started, ended, diagnostics.CanonicalMappingPayload{
		TradeFillUpserts:        applyResult.TradeFillUpserts,
		CashflowUpserts:         applyResult.CashflowUpserts,
		FXUpserts:               applyResult.FXUpserts,
		CorporateActionUpserts:  applyResult.CorporateActionUpserts,
		InstrumentUpserts:       applyResult.InstrumentUpserts,
		OpenPositionMarkUpserts: applyResult.OpenPositionMarkUpserts,
	})

	if err := o.stageSnapshot(ctx, runID, applyResult.TouchedInstrumentIDs, timeline); err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	return store.RunStatusSucceeded, "", ""
}

func (o *Orchestrator) reprocessScope(ctx context.Context, artifactID string) ([]string, error) {
	if artifactID != "" {
		return []string{artifactID}, nil
	}
	ids, err := o.db.ListArtifactIDs(ctx, o.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for full replay: %w", err)
	}
	return ids, nil
}
