package ledger

import (
	"testing"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/valuation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSnapshot_TotalPnLIsSumOfRealizedAndUnrealized(t *testing.T) {
	lots := []*Lot{
		{RemainingQuantity: decimal.NewFromInt(60), OpenPrice: decimal.RequireFromString("10.00"), OpenFeePerUnit: decimal.RequireFromString("0.10")},
	}
	in := SnapshotInput{
		OpenLots:          lots,
		RealizedPnLToDate: decimal.RequireFromString("199.00"),
		Mark:              valuation.EODMarkResult{Mark: decimal.RequireFromString("12.00"), Resolved: true},
		FX:                valuation.FXResult{Resolved: true},
		Cashflows:         CashflowTotals{Fees: decimal.RequireFromString("1.00")},
		Currency:          "USD",
	}
	snap := BuildSnapshot(in)

	// cost basis = 60*10.00 + 60*0.10 = 606.00
	assert.True(t, snap.CostBasis.Equal(decimal.RequireFromString("606.00")), "got %s", snap.CostBasis)
	// unrealized = 60*12.00 - 606.00 = 114.00
	assert.True(t, snap.UnrealizedPnL.Equal(decimal.RequireFromString("114.00")), "got %s", snap.UnrealizedPnL)
	assert.True(t, snap.TotalPnL.Equal(snap.RealizedPnL.Add(snap.UnrealizedPnL)))
	assert.False(t, snap.Provisional)
}

func TestBuildSnapshot_ProvisionalWhenMarkFallback(t *testing.T) {
	in := SnapshotInput{
		Mark: valuation.EODMarkResult{Provisional: true, DiagnosticCode: valuation.DiagEODMarkFallbackLastTrade, Resolved: true, Mark: decimal.RequireFromString("1.00")},
		FX:   valuation.FXResult{Resolved: true},
	}
	snap := BuildSnapshot(in)
	assert.True(t, snap.Provisional)
}

func TestBuildSnapshot_UnresolvedMarkLeavesUnrealizedZero(t *testing.T) {
	lots := []*Lot{{RemainingQuantity: decimal.NewFromInt(10), OpenPrice: decimal.RequireFromString("5.00")}}
	in := SnapshotInput{OpenLots: lots, Mark: valuation.EODMarkResult{Resolved: false, Provisional: true}}
	snap := BuildSnapshot(in)
	assert.True(t, snap.UnrealizedPnL.IsZero())
	assert.True(t, snap.Provisional)
}

func TestReportDateInLocation_UsesLocalCalendarDate(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	require.NoError(t, err)
	// Israel is UTC+3 in July (daylight time): 23:30 UTC is already the next local day.
	instant := time.Date(2026, 7, 15, 23, 30, 0, 0, time.UTC)
	got := ReportDateInLocation(instant, loc)
	assert.Equal(t, time.July, got.Month())
	assert.Equal(t, 16, got.Day())
}
