package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RunStatus is the lifecycle status of an ingestion run.
type RunStatus string

const (
	RunStatusActive                RunStatus = "active"
	RunStatusSucceeded             RunStatus = "succeeded"
	RunStatusFailed                RunStatus = "failed"
	RunStatusSucceededWithWarnings RunStatus = "succeeded_with_warnings"
)

// RunTrigger identifies what started an ingestion run.
type RunTrigger string

const (
	RunTriggerScheduled RunTrigger = "scheduled"
	RunTriggerManual    RunTrigger = "manual"
	RunTriggerReprocess RunTrigger = "reprocess"
)

// Run is a row of ingestion_run.
type Run struct {
	ID                 string
	AccountID          string
	Status             RunStatus
	Trigger            RunTrigger
	UpstreamReference  sql.NullString
	ErrorCode          sql.NullString
	ErrorMessage       sql.NullString
	Diagnostics        []byte
	StartedAtUTC       time.Time
	EndedAtUTC         sql.NullTime
}

// StartRun inserts a new active run for accountID, enforcing the
// single-active-run lock via the partial unique index on (account_id) WHERE
// status = 'active'. Returns ErrRunAlreadyActive if one already exists.
func (db *DB) StartRun(ctx context.Context, accountID string, trigger RunTrigger) (*Run, error) {
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO ingestion_run (account_id, status, trigger)
		VALUES ($1, 'active', $2)
		RETURNING id, started_at_utc`,
		accountID, trigger,
	)

	run := &Run{
		AccountID: accountID,
		Status:    RunStatusActive,
		Trigger:   trigger,
	}
	if err := row.Scan(&run.ID, &run.StartedAtUTC); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrRunAlreadyActive
		}
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

// FinishRun transitions a run to a terminal status and persists its
// diagnostics timeline and, for failures, its error classification.
func (db *DB) FinishRun(ctx context.Context, runID string, status RunStatus, errorCode, errorMessage string, diagnostics []byte) error {
	var errCode, errMsg sql.NullString
	if errorCode != "" {
		errCode = sql.NullString{String: errorCode, Valid: true}
	}
	if errorMessage != "" {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		UPDATE ingestion_run
		SET status = $2, error_code = $3, error_message = $4, diagnostics = $5, ended_at_utc = now()
		WHERE id = $1`,
		runID, status, errCode, errMsg, diagnostics,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// GetRun loads a single run by id.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{}
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, account_id, status, trigger, upstream_reference, error_code,
		       error_message, diagnostics, started_at_utc, ended_at_utc
		FROM ingestion_run WHERE id = $1`, runID,
	).Scan(&run.ID, &run.AccountID, &run.Status, &run.Trigger, &run.UpstreamReference,
		&run.ErrorCode, &run.ErrorMessage, &run.Diagnostics, &run.StartedAtUTC, &run.EndedAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs for accountID, newest first.
func (db *DB) ListRuns(ctx context.Context, accountID string, limit int) ([]*Run, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, account_id, status, trigger, upstream_reference, error_code,
		       error_message, diagnostics, started_at_utc, ended_at_utc
		FROM ingestion_run
		WHERE account_id = $1
		ORDER BY started_at_utc DESC
		LIMIT $2`, accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.AccountID, &run.Status, &run.Trigger, &run.UpstreamReference,
			&run.ErrorCode, &run.ErrorMessage, &run.Diagnostics, &run.StartedAtUTC, &run.EndedAtUTC); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SetUpstreamReference records the Flex reference code obtained from the
// request stage, used to correlate poll attempts with the triggering run.
func (db *DB) SetUpstreamReference(ctx context.Context, runID, reference string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE ingestion_run SET upstream_reference = $2 WHERE id = $1`, runID, reference)
	if err != nil {
		return fmt.Errorf("failed to set upstream reference for run %s: %w", runID, err)
	}
	return nil
}
