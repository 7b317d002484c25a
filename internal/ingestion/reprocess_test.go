package ingestion

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aristath/ibkr-flexsync/internal/diagnostics"
	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReprocessScope_NonEmptyArtifactIDScopesToOne(t *testing.T) {
	db, mock := newMockStore(t)
	o := New(db, nil, "U1234567", "tok", "q1", "USD", nil, zerolog.Nop())

	ids, err := o.reprocessScope(context.Background(), "artifact-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact-1"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReprocessScope_EmptyArtifactIDListsAllArtifacts(t *testing.T) {
	db, mock := newMockStore(t)
	o := New(db, nil, "U1234567", "tok", "q1", "USD", nil, zerolog.Nop())

	rows := sqlmock.NewRows([]string{"id"}).AddRow("artifact-1").AddRow("artifact-2")
	mock.ExpectQuery("SELECT id FROM raw_artifact").WithArgs("U1234567").WillReturnRows(rows)

	ids, err := o.reprocessScope(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact-1", "artifact-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReprocess_NoRawRowsIsNoOp(t *testing.T) {
	db, mock := newMockStore(t)
	o := New(db, nil, "U1234567", "tok", "q1", "USD", nil, zerolog.Nop())

	for range mappedSections {
		mock.ExpectQuery("SELECT id, section, source_row_ref, attributes").
			WithArgs("artifact-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "section", "source_row_ref", "attributes"}))
	}

	timeline := diagnostics.NewTimeline()
	status, code, msg := o.reprocess(context.Background(), "run-1", "artifact-1", timeline)
	assert.Equal(t, store.RunStatusSucceeded, status)
	assert.Empty(t, code)
	assert.Empty(t, msg)
	require.NoError(t, mock.ExpectationsWereMet())
}
