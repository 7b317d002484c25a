// Package ingestion drives the staged ingestion pipeline (C9) and its
// reprocess counterpart (C10), owning run lifecycle persistence and the
// diagnostics timeline (spec §4.1, §4.10).
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/canonical"
	"github.com/aristath/ibkr-flexsync/internal/diagnostics"
	"github.com/aristath/ibkr-flexsync/internal/flexclient"
	"github.com/aristath/ibkr-flexsync/internal/preflight"
	"github.com/aristath/ibkr-flexsync/internal/rawstore"
	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/rs/zerolog"
)

// Orchestrator drives ingestion and reprocess runs for one account.
type Orchestrator struct {
	db           *store.DB
	client       *flexclient.Client
	accountID    string
	flexToken    string
	flexQueryID  string
	baseCurrency string
	loc          *time.Location
	reconcile    bool
	log          zerolog.Logger
}

// New constructs an Orchestrator. loc is the local business zone used to
// derive report dates (spec §4.9).
func New(db *store.DB, client *flexclient.Client, accountID, flexToken, flexQueryID, baseCurrency string, loc *time.Location, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		db:           db,
		client:       client,
		accountID:    accountID,
		flexToken:    flexToken,
		flexQueryID:  flexQueryID,
		baseCurrency: baseCurrency,
		loc:          loc,
		log:          log.With().Str("component", "ingestion").Logger(),
	}
}

// Result summarizes a completed run for callers (the HTTP trigger handler,
// the scheduler, the reprocess CLI).
type Result struct {
	RunID  string
	Status store.RunStatus
}

// Trigger runs the full ingestion pipeline for the configured account:
// request → poll → download → persist → canonical_mapping → snapshot
// (spec §4.1). Returns store.ErrRunAlreadyActive unchanged if another run is
// already active, per the lock protocol — no run row is created in that case.
func (o *Orchestrator) Trigger(ctx context.Context, trigger store.RunTrigger) (*Result, error) {
	run, err := o.db.StartRun(ctx, o.accountID, trigger)
	if err != nil {
		return nil, err
	}

	timeline := diagnostics.NewTimeline()
	status, errCode, errMsg := o.run(ctx, run.ID, timeline)

	diagBytes, _ := json.Marshal(timeline)
	// A cancelled ctx must not stop the run row from reaching its terminal state.
	if finishErr := o.db.FinishRun(context.WithoutCancel(ctx), run.ID, status, string(errCode), errMsg, diagBytes); finishErr != nil {
		o.log.Error().Err(finishErr).Str("run_id", run.ID).Msg("failed to finalize run")
		return nil, finishErr
	}

	return &Result{RunID: run.ID, Status: status}, nil
}

// run executes every stage in sequence, converting any failure into a
// terminal status/code/message triple. It never returns an error itself:
// every failure path is captured in the return values so Trigger can always
// finalize the run row (spec §4.1 "terminal invariant").
func (o *Orchestrator) run(ctx context.Context, runID string, timeline *diagnostics.Timeline) (store.RunStatus, Code, string) {
	referenceCode, err := o.stageRequest(ctx, runID, timeline)
	if err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	xmlBody, err := o.stagePoll(ctx, referenceCode, timeline)
	if err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	if err := o.stageDownloadValidate(xmlBody, timeline); err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	artifact, insertResult, err := o.stagePersist(ctx, runID, xmlBody, timeline)
	if err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	touchedInstrumentIDs, err := o.stageCanonicalMapping(ctx, runID, artifact, insertResult, timeline)
	if err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	if err := o.stageSnapshot(ctx, runID, touchedInstrumentIDs, timeline); err != nil {
		code, msg := classify(err)
		return store.RunStatusFailed, code, msg
	}

	return store.RunStatusSucceeded, "", ""
}

func (o *Orchestrator) stageRequest(ctx context.Context, runID string, timeline *diagnostics.Timeline) (string, error) {
	started := time.Now().UTC()
	referenceCode, err := o.client.SendRequest(ctx, o.flexToken, o.flexQueryID)
	ended := time.Now().UTC()
	if err != nil {
		timeline.Append(diagnostics.StageRequest, diagnostics.StatusFailed, started, ended, nil)
		return "", err
	}
	if setErr := o.db.SetUpstreamReference(ctx, runID, referenceCode); setErr != nil {
		o.log.Warn().Err(setErr).Str("run_id", runID).Msg("failed to record upstream reference code")
	}
	timeline.Append(diagnostics.StageRequest, diagnostics.StatusSuccess, started, ended,
		diagnostics.RequestPayload{UpstreamReferenceCode: referenceCode})
	return referenceCode, nil
}

func (o *Orchestrator) stagePoll(ctx context.Context, referenceCode string, timeline *diagnostics.Timeline) ([]byte, error) {
	started := time.Now().UTC()
	o.client.OnPollAttempt(func(a flexclient.PollAttempt) {
		status := diagnostics.StatusRetry
		if a.ErrorCode == "" {
			status = diagnostics.StatusSuccess
		}
		now := time.Now().UTC()
		timeline.Append(diagnostics.StagePoll, status, now, now, diagnostics.PollAttemptPayload{
			PollAttempt:       a.Attempt,
			ErrorCode:         string(a.ErrorCode),
			ErrorMessage:      a.ErrorMessage,
			RetryAfterSeconds: a.RetryAfterSeconds,
		})
	})
	defer o.client.OnPollAttempt(nil)

	body, err := o.client.GetStatement(ctx, o.flexToken, referenceCode)
	ended := time.Now().UTC()
	if err != nil {
		timeline.Append(diagnostics.StagePoll, diagnostics.StatusFailed, started, ended, nil)
		return nil, err
	}
	return body, nil
}

func (o *Orchestrator) stageDownloadValidate(xmlBody []byte, timeline *diagnostics.Timeline) error {
	started := time.Now().UTC()
	_, err := preflight.Validate(xmlBody, o.reconcile)
	ended := time.Now().UTC()
	if err != nil {
		timeline.Append(diagnostics.StageDownload, diagnostics.StatusFailed, started, ended, nil)
		return err
	}
	timeline.Append(diagnostics.StageDownload, diagnostics.StatusSuccess, started, ended, nil)
	return nil
}

func (o *Orchestrator) stagePersist(ctx context.Context, runID string, xmlBody []byte, timeline *diagnostics.Timeline) (*store.Artifact, *store.InsertResult, error) {
	started := time.Now().UTC()

	artifact, err := o.db.UpsertArtifact(ctx, o.accountID, runID, xmlBody)
	if err != nil {
		timeline.Append(diagnostics.StagePersist, diagnostics.StatusFailed, started, time.Now().UTC(), nil)
		return nil, nil, fmt.Errorf("failed to persist raw artifact: %w", err)
	}

	rows, err := rawstore.Extract(xmlBody)
	if err != nil {
		timeline.Append(diagnostics.StagePersist, diagnostics.StatusFailed, started, time.Now().UTC(), nil)
		return nil, nil, err
	}

	insertResult, err := o.db.InsertRawRecords(ctx, artifact.ID, rows)
	ended := time.Now().UTC()
	if err != nil {
		timeline.Append(diagnostics.StagePersist, diagnostics.StatusFailed, started, ended, nil)
		return nil, nil, fmt.Errorf("failed to persist raw records: %w", err)
	}

	sum := sha256.Sum256(xmlBody)
	timeline.Append(diagnostics.StagePersist, diagnostics.StatusSuccess, started, ended, diagnostics.PersistPayload{
		PayloadSHA256:       hex.EncodeToString(sum[:]),
		RawArtifactID:       artifact.ID,
		ArtifactDeduped:     artifact.Deduped,
		RawRowsInserted:     insertResult.Inserted,
		RawRowsDeduplicated: insertResult.Deduplicated,
	})
	return artifact, insertResult, nil
}

// stageCanonicalMapping maps only the raw rows inserted by this run. If
// none were new (full artifact dedupe), the stage is a no-op per spec §4.5
// ("Run-scoped canonical processing").
func (o *Orchestrator) stageCanonicalMapping(ctx context.Context, runID string, artifact *store.Artifact, insertResult *store.InsertResult, timeline *diagnostics.Timeline) ([]int64, error) {
	started := time.Now().UTC()

	if insertResult.Inserted == 0 {
		timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusSuccess, started, time.Now().UTC(),
			diagnostics.CanonicalMappingPayload{SkipReason: "no_new_raw_rows_for_run"})
		return nil, nil
	}

	newRows := make([]*store.RawRecord, 0, insertResult.Inserted)
	for _, r := range insertResult.Records {
		if r.ID != 0 {
			newRows = append(newRows, r)
		}
	}

	batch, err := canonical.BuildCanonicalBatch(o.accountID, runID, newRows)
	if err != nil {
		timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusFailed, started, time.Now().UTC(), nil)
		return nil, err
	}

	applyResult, err := canonical.ApplyBatch(ctx, o.db, runID, batch)
	ended := time.Now().UTC()
	if err != nil {
		timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusFailed, started, ended, nil)
		return nil, err
	}

	timeline.Append(diagnostics.StageCanonicalMapping, diagnostics.StatusSuccess, started, ended, diagnostics.CanonicalMappingPayload{
		TradeFillUpserts:        applyResult.TradeFillUpserts,
		CashflowUpserts:         applyResult.CashflowUpserts,
		FXUpserts:               applyResult.FXUpserts,
		CorporateActionUpserts:  applyResult.CorporateActionUpserts,
		InstrumentUpserts:       applyResult.InstrumentUpserts,
		OpenPositionMarkUpserts: applyResult.OpenPositionMarkUpserts,
	})

	return applyResult.TouchedInstrumentIDs, nil
}

func (o *Orchestrator) stageSnapshot(ctx context.Context, runID string, instrumentIDs []int64, timeline *diagnostics.Timeline) error {
	started := time.Now().UTC()

	if len(instrumentIDs) == 0 {
		timeline.Append(diagnostics.StageSnapshot, diagnostics.StatusSuccess, started, time.Now().UTC(),
			diagnostics.SnapshotPayload{InstrumentsSnapshotted: 0})
		return nil
	}

	reportDate := reportDateForRun(o.loc)
	count, err := buildSnapshots(ctx, o.db, o.accountID, runID, instrumentIDs, reportDate, o.baseCurrency, o.loc)
	ended := time.Now().UTC()
	if err != nil {
		timeline.Append(diagnostics.StageSnapshot, diagnostics.StatusFailed, started, ended, nil)
		return err
	}

	timeline.Append(diagnostics.StageSnapshot, diagnostics.StatusSuccess, started, ended,
		diagnostics.SnapshotPayload{InstrumentsSnapshotted: count})
	return nil
}
