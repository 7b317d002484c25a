package scheduler

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aristath/ibkr-flexsync/internal/ingestion"
	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestionJob_Run_SwallowsRunAlreadyActive(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	db := store.NewForTest(conn)

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_ingestion_run_one_active"}
	mock.ExpectQuery("INSERT INTO ingestion_run").
		WithArgs("U1234567", store.RunTriggerScheduled).
		WillReturnError(pgErr)

	orch := ingestion.New(db, nil, "U1234567", "tok", "q1", "USD", nil, zerolog.Nop())
	job := NewIngestionJob(orch)

	assert.NoError(t, job.Run())
	assert.Equal(t, "scheduled_ingestion", job.Name())
	require.NoError(t, mock.ExpectationsWereMet())
}
