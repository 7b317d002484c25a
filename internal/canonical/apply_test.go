package canonical

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCashflow_IdenticalValuesIsNoOp(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	db := store.NewForTest(conn)

	settleDate, _ := time.Parse("2006-01-02", "2026-02-10")
	rows := sqlmock.NewRows([]string{"amount", "settle_date"}).AddRow("12.34", settleDate)
	mock.ExpectQuery("SELECT amount, settle_date").WillReturnRows(rows)

	applied, err := applyCashflow(context.Background(), db, store.Cashflow{
		AccountID: "U1234567", TransactionID: "5001",
		Amount: decimal.RequireFromString("12.34"), SettleDate: settleDate,
	})
	require.NoError(t, err)
	assert.False(t, applied, "identical amount and date must be a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCashflow_DifferentAmountIsCorrection(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	db := store.NewForTest(conn)

	settleDate, _ := time.Parse("2006-01-02", "2026-02-10")
	existingRows := sqlmock.NewRows([]string{"amount", "settle_date"}).AddRow("12.34", settleDate)
	mock.ExpectQuery("SELECT amount, settle_date").WillReturnRows(existingRows)

	upsertRows := sqlmock.NewRows([]string{"id"}).AddRow(int64(1))
	mock.ExpectQuery("INSERT INTO event_cashflow").WillReturnRows(upsertRows)

	applied, err := applyCashflow(context.Background(), db, store.Cashflow{
		AccountID: "U1234567", TransactionID: "5001",
		Amount: decimal.RequireFromString("99.00"), SettleDate: settleDate,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
