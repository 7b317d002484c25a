package ledger

import (
	"time"

	"github.com/aristath/ibkr-flexsync/internal/money"
	"github.com/aristath/ibkr-flexsync/internal/valuation"
	"github.com/shopspring/decimal"
)

// CashflowTotals carries the per-currency fee and withholding-tax totals
// booked on one report date, used to populate the snapshot's Fees and
// WithholdingTax fields (spec §4.9).
type CashflowTotals struct {
	Fees           decimal.Decimal
	WithholdingTax decimal.Decimal
}

// SnapshotInput is everything BuildSnapshot needs for one
// (account, instrument, report_date): the open lots as of that date, the
// cumulative realized P&L bucket through that date, the resolved EOD mark
// and execution FX, and same-day cashflow totals.
type SnapshotInput struct {
	OpenLots          []*Lot
	RealizedPnLToDate decimal.Decimal
	Mark              valuation.EODMarkResult
	FX                valuation.FXResult
	Cashflows         CashflowTotals
	Currency          string
	// UnresolvedCorporateAction marks the instrument provisional due to an
	// open manual case on a colliding corporate-action natural key
	// (spec §4.5's "mandatory manual case").
	UnresolvedCorporateAction bool
}

// Snapshot is the assembled end-of-day position and P&L for one instrument
// on one report date, ready to be persisted via store.PnLSnapshot.
type Snapshot struct {
	QuantityEndOfDay decimal.Decimal
	CostBasis        decimal.Decimal
	RealizedPnL      decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	TotalPnL         decimal.Decimal
	Fees             decimal.Decimal
	WithholdingTax   decimal.Decimal
	Provisional      bool
}

// BuildSnapshot assembles one instrument's daily snapshot from its FIFO
// state and resolved valuation (spec §4.9). Invariant:
// TotalPnL == RealizedPnL + UnrealizedPnL.
func BuildSnapshot(in SnapshotInput) Snapshot {
	qty := decimal.Zero
	costBasis := decimal.Zero
	for _, lot := range in.OpenLots {
		qty = qty.Add(lot.RemainingQuantity)
		costBasis = costBasis.Add(lot.RemainingQuantity.Mul(lot.OpenPrice))
		costBasis = costBasis.Add(lot.RemainingQuantity.Abs().Mul(lot.OpenFeePerUnit))
	}
	costBasis = costBasis.Round(money.AmountScale)

	unrealized := decimal.Zero
	if in.Mark.Resolved {
		unrealized = qty.Mul(in.Mark.Mark).Sub(costBasis).Round(money.AmountScale)
	}

	realized := in.RealizedPnLToDate.Round(money.AmountScale)
	total := realized.Add(unrealized).Round(money.AmountScale)

	provisional := in.UnresolvedCorporateAction || in.Mark.Provisional || in.FX.Provisional

	return Snapshot{
		QuantityEndOfDay: qty,
		CostBasis:        costBasis,
		RealizedPnL:      realized,
		UnrealizedPnL:    unrealized,
		TotalPnL:         total,
		Fees:             in.Cashflows.Fees.Round(money.AmountScale),
		WithholdingTax:   in.Cashflows.WithholdingTax.Round(money.AmountScale),
		Provisional:      provisional,
	}
}

// ReportDateInLocation returns the local calendar date for a UTC instant in
// the given business location, the derivation rule of spec §4.9 (holds
// across DST transitions since time.Time carries an absolute instant).
func ReportDateInLocation(instant time.Time, loc *time.Location) time.Time {
	local := instant.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
