// Package ledger implements the FIFO lot-matching engine and the daily P&L
// snapshot assembly it feeds (C8, spec §4.8-§4.9). Both are pure functions
// over the trade fills and valuation results the caller has already loaded;
// this package never touches the store directly.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/money"
	"github.com/shopspring/decimal"
)

// Fill is one trade fill, the FIFO engine's unit of input. Quantity is
// signed: positive for a buy, negative for a sell. Fees is the combined
// magnitude of commission and other fees on this fill (always >= 0).
type Fill struct {
	TradeID      string
	RawRecordID  int64
	DateTimeUTC  time.Time
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Fees         decimal.Decimal
	FXRateToBase decimal.NullDecimal
}

// Lot is one FIFO-matched opening position, fully or partially closed.
type Lot struct {
	OpenedTradeID     string
	OpenDatetimeUTC   time.Time
	OriginalQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	OpenPrice         decimal.Decimal
	OpenFeePerUnit    decimal.Decimal
	OpenFXRateToBase  decimal.NullDecimal
	Closed            bool
}

// RealizedEvent is the realized P&L produced by closing some quantity
// against earlier lots, attributed to the closing fill's report date.
type RealizedEvent struct {
	ReportDate     time.Time
	ClosingTradeID string
	ClosedQuantity decimal.Decimal
	RealizedPnL    decimal.Decimal
}

// Result is the full output of MatchFIFO for one (account, instrument).
type Result struct {
	Lots           []*Lot
	RealizedEvents []RealizedEvent
}

// MatchFIFO matches fills against a FIFO queue of open lots (spec §4.8).
// A fill on the same side as the current net position opens a new lot; a
// fill on the opposite side consumes open lots from the head of the queue,
// oldest first. Fees on a fill are split between its closing and opening
// portions in proportion to quantity: the closing share is realized
// against the closed quantity, the opening share becomes the new lot's
// OpenFeePerUnit and enters cost basis at snapshot time. Closing against
// an earlier lot also realizes that lot's own OpenFeePerUnit for the
// units being closed, so a unit's opening commission is always either
// realized (once closed) or retained in the remaining lot's cost basis —
// never dropped.
//
// fills need not arrive pre-sorted: MatchFIFO sorts by (DateTimeUTC,
// RawRecordID) ascending before processing, the documented deterministic
// tiebreaker, so identical input sets always produce identical lots.
// reportDateOf converts a fill's UTC instant to the local business date
// used to bucket realized events.
func MatchFIFO(fills []Fill, reportDateOf func(time.Time) time.Time) (Result, error) {
	sorted := make([]Fill, len(fills))
	copy(sorted, fills)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].DateTimeUTC.Equal(sorted[j].DateTimeUTC) {
			return sorted[i].DateTimeUTC.Before(sorted[j].DateTimeUTC)
		}
		return sorted[i].RawRecordID < sorted[j].RawRecordID
	})

	var queue []*Lot
	var allLots []*Lot
	var events []RealizedEvent

	for _, f := range sorted {
		if f.Quantity.IsZero() {
			continue
		}
		if f.Price.IsNegative() {
			return Result{}, fmt.Errorf("trade fill %s has a negative price %s", f.TradeID, f.Price)
		}

		remaining := f.Quantity
		totalAbs := f.Quantity.Abs()
		closedAbs := decimal.Zero
		realizedForFill := decimal.Zero

		for len(queue) > 0 && !remaining.IsZero() {
			front := queue[0]
			if sameSign(front.RemainingQuantity, remaining) {
				break
			}

			closeQty := minDecimal(remaining.Abs(), front.RemainingQuantity.Abs())
			openFeeShare := front.OpenFeePerUnit.Mul(closeQty)
			if front.RemainingQuantity.IsPositive() {
				realizedForFill = realizedForFill.Add(f.Price.Sub(front.OpenPrice).Mul(closeQty)).Sub(openFeeShare)
				front.RemainingQuantity = front.RemainingQuantity.Sub(closeQty)
				remaining = remaining.Add(closeQty)
			} else {
				realizedForFill = realizedForFill.Add(front.OpenPrice.Sub(f.Price).Mul(closeQty)).Sub(openFeeShare)
				front.RemainingQuantity = front.RemainingQuantity.Add(closeQty)
				remaining = remaining.Sub(closeQty)
			}
			closedAbs = closedAbs.Add(closeQty)

			if front.RemainingQuantity.IsZero() {
				front.Closed = true
				queue = queue[1:]
			}
		}

		if closedAbs.IsPositive() {
			closingFeesShare := decimal.Zero
			if totalAbs.IsPositive() {
				closingFeesShare = f.Fees.Mul(closedAbs).Div(totalAbs).Round(money.AmountScale)
			}
			events = append(events, RealizedEvent{
				ReportDate:     reportDateOf(f.DateTimeUTC),
				ClosingTradeID: f.TradeID,
				ClosedQuantity: closedAbs,
				RealizedPnL:    realizedForFill.Sub(closingFeesShare).Round(money.AmountScale),
			})
		}

		if !remaining.IsZero() {
			openingAbs := remaining.Abs()
			openFeePerUnit := decimal.Zero
			if totalAbs.IsPositive() {
				openingFeesShare := f.Fees.Mul(openingAbs).Div(totalAbs)
				openFeePerUnit = openingFeesShare.Div(openingAbs).Round(money.AmountScale)
			}
			lot := &Lot{
				OpenedTradeID:     f.TradeID,
				OpenDatetimeUTC:   f.DateTimeUTC,
				OriginalQuantity:  remaining,
				RemainingQuantity: remaining,
				OpenPrice:         f.Price,
				OpenFeePerUnit:    openFeePerUnit,
				OpenFXRateToBase:  f.FXRateToBase,
			}
			queue = append(queue, lot)
			allLots = append(allLots, lot)
		}
	}

	return Result{Lots: allLots, RealizedEvents: events}, nil
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
