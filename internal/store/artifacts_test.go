package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertArtifact_DedupesIdenticalPayload(t *testing.T) {
	db, mock := newMockDB(t)
	payload := []byte("<FlexStatement>...</FlexStatement>")

	rows := sqlmock.NewRows([]string{"id", "byte_size", "first_run_id", "received_at_utc"}).
		AddRow("artifact-1", int64(len(payload)), "run-1", mockTime())
	mock.ExpectQuery("SELECT id, byte_size, first_run_id, received_at_utc").
		WillReturnRows(rows)

	art, err := db.UpsertArtifact(context.Background(), "U1234567", "run-2", payload)
	require.NoError(t, err)
	assert.True(t, art.Deduped)
	assert.Equal(t, "artifact-1", art.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertArtifact_InsertsNewPayload(t *testing.T) {
	db, mock := newMockDB(t)
	payload := []byte("<FlexStatement>fresh</FlexStatement>")

	mock.ExpectQuery("SELECT id, byte_size, first_run_id, received_at_utc").
		WillReturnError(errNoRowsForTest())

	rows := sqlmock.NewRows([]string{"id", "received_at_utc"}).AddRow("artifact-2", mockTime())
	mock.ExpectQuery("INSERT INTO raw_artifact").
		WillReturnRows(rows)

	art, err := db.UpsertArtifact(context.Background(), "U1234567", "run-1", payload)
	require.NoError(t, err)
	assert.False(t, art.Deduped)
	assert.Equal(t, "artifact-2", art.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
