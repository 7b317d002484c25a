package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestResolveFX_SameCurrencyIsIdentityWithoutTouchingStore(t *testing.T) {
	reportDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	fx, err := resolveFX(context.Background(), nil, "U1234567", "USD", "USD", reportDate, nil)
	assert.NoError(t, err)
	assert.True(t, fx.Resolved)
	assert.Equal(t, "identity", string(fx.Source))
	assert.True(t, fx.Rate.Equal(decimal.NewFromInt(1))) // identity rate, no panic on nil *store.DB
}

func TestSameCalendarDate(t *testing.T) {
	a := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC)
	c := time.Date(2026, 3, 16, 0, 1, 0, 0, time.UTC)

	assert.True(t, sameCalendarDate(a, b))
	assert.False(t, sameCalendarDate(a, c))
}

func TestCashflowTotals_SameDayTotalsAndCumulativeWithholding(t *testing.T) {
	reportDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	cashflows := []*store.CashflowAmount{
		{Kind: "withholding_tax", SettleDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("-2.00")},
		{Kind: "withholding_tax", SettleDate: reportDate, Amount: decimal.RequireFromString("-3.00")},
		{Kind: "fee", SettleDate: reportDate, Amount: decimal.RequireFromString("-0.50")},
		{Kind: "withholding_tax", SettleDate: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("-9.00")},
	}

	dayTotals, withholdingToDate := cashflowTotals(cashflows, reportDate)

	assert.True(t, dayTotals.Fees.Equal(decimal.RequireFromString("0.50")), "got %s", dayTotals.Fees)
	assert.True(t, dayTotals.WithholdingTax.Equal(decimal.RequireFromString("3.00")), "got %s", dayTotals.WithholdingTax)
	// cumulative through reportDate: the 2026-03-20 row is excluded, the
	// 2026-03-10 and 2026-03-15 rows both count.
	assert.True(t, withholdingToDate.Equal(decimal.RequireFromString("5.00")), "got %s", withholdingToDate)
}

func TestDateOnOrBefore(t *testing.T) {
	reportDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, dateOnOrBefore(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), reportDate))
	assert.True(t, dateOnOrBefore(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), reportDate))
	assert.False(t, dateOnOrBefore(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), reportDate))
}
