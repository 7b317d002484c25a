package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &DB{conn: conn, log: zerolog.Nop()}, mock
}

func TestStartRun_ReturnsErrRunAlreadyActive(t *testing.T) {
	db, mock := newMockDB(t)

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_ingestion_run_one_active"}
	mock.ExpectQuery("INSERT INTO ingestion_run").
		WithArgs("U1234567", RunTriggerScheduled).
		WillReturnError(pgErr)

	_, err := db.StartRun(context.Background(), "U1234567", RunTriggerScheduled)
	assert.ErrorIs(t, err, ErrRunAlreadyActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRun_Success(t *testing.T) {
	db, mock := newMockDB(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "started_at_utc"}).AddRow("run-1", now)
	mock.ExpectQuery("INSERT INTO ingestion_run").
		WithArgs("U1234567", RunTriggerManual).
		WillReturnRows(rows)

	run, err := db.StartRun(context.Background(), "U1234567", RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, RunStatusActive, run.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT id, account_id").
		WithArgs("missing-run").
		WillReturnError(sql.ErrNoRows)

	_, err := db.GetRun(context.Background(), "missing-run")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
