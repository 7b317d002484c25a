package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/ledger"
	"github.com/aristath/ibkr-flexsync/internal/money"
	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/aristath/ibkr-flexsync/internal/valuation"
	"github.com/shopspring/decimal"
)

// buildSnapshots rebuilds the FIFO ledger and daily snapshot for every
// touched instrument and persists the result, used identically by the
// ingestion and reprocess orchestrators (spec §4.8-§4.10). The ledger is
// always recomputed from the full trade history for the instrument rather
// than patched incrementally, so reruns converge byte-for-byte.
func buildSnapshots(ctx context.Context, db *store.DB, accountID, runID string, instrumentIDs []int64, reportDate time.Time, baseCurrency string, loc *time.Location) (int, error) {
	count := 0
	for _, instrumentID := range instrumentIDs {
		if err := snapshotInstrument(ctx, db, accountID, runID, instrumentID, reportDate, baseCurrency, loc); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func snapshotInstrument(ctx context.Context, db *store.DB, accountID, runID string, instrumentID int64, reportDate time.Time, baseCurrency string, loc *time.Location) error {
	inst, err := db.GetInstrumentByID(ctx, instrumentID)
	if err != nil {
		return fmt.Errorf("failed to load instrument %d: %w", instrumentID, err)
	}

	fills, err := db.TradeFillsByInstrument(ctx, accountID, instrumentID)
	if err != nil {
		return fmt.Errorf("failed to load trade fills for instrument %d: %w", instrumentID, err)
	}

	ledgerFills := make([]ledger.Fill, 0, len(fills))
	for _, f := range fills {
		ledgerFills = append(ledgerFills, ledger.Fill{
			TradeID:      f.TradeID,
			RawRecordID:  f.SourceRawRecordID,
			DateTimeUTC:  f.TradeDatetimeUTC,
			Quantity:     f.Quantity,
			Price:        f.Price,
			Fees:         f.Commission.Add(f.Fees),
			FXRateToBase: f.FXRateToBase,
		})
	}

	reportDateOf := func(instant time.Time) time.Time { return ledger.ReportDateInLocation(instant, loc) }
	result, err := ledger.MatchFIFO(ledgerFills, reportDateOf)
	if err != nil {
		return fmt.Errorf("ledger invariant violation for instrument %d: %w", instrumentID, err)
	}

	for _, lot := range result.Lots {
		storeLot := store.PositionLot{
			AccountID:         accountID,
			InstrumentID:      instrumentID,
			OpenedTradeID:     lot.OpenedTradeID,
			OpenDatetimeUTC:   lot.OpenDatetimeUTC,
			OriginalQuantity:  lot.OriginalQuantity,
			RemainingQuantity: lot.RemainingQuantity,
			OpenPrice:         lot.OpenPrice,
			OpenFeePerUnit:    lot.OpenFeePerUnit,
			OpenFXRateToBase:  lot.OpenFXRateToBase,
			Closed:            lot.Closed,
		}
		if _, err := db.UpsertLot(ctx, storeLot); err != nil {
			return fmt.Errorf("failed to persist position lot for instrument %d: %w", instrumentID, err)
		}
	}

	realizedToDate := decimal.Zero
	for _, ev := range result.RealizedEvents {
		if !ev.ReportDate.After(reportDate) {
			realizedToDate = realizedToDate.Add(ev.RealizedPnL)
		}
	}

	cashflows, err := db.FeeAndWithholdingCashflowsByInstrument(ctx, accountID, instrumentID)
	if err != nil {
		return fmt.Errorf("failed to load cashflows for instrument %d: %w", instrumentID, err)
	}
	dayTotals, withholdingToDate := cashflowTotals(cashflows, reportDate)

	// Withholding tax is a negative P&L adjustment to the realized bucket,
	// booked on the day of the cashflow and carried forward in every later
	// day's cumulative total (spec §4.8).
	realizedToDate = realizedToDate.Sub(withholdingToDate)

	openLots, err := db.LotsByInstrument(ctx, accountID, instrumentID)
	if err != nil {
		return fmt.Errorf("failed to reload lots for instrument %d: %w", instrumentID, err)
	}
	ledgerLots := make([]*ledger.Lot, 0, len(openLots))
	for _, l := range openLots {
		if l.RemainingQuantity.IsZero() {
			continue
		}
		ledgerLots = append(ledgerLots, &ledger.Lot{
			OpenedTradeID:     l.OpenedTradeID,
			OpenDatetimeUTC:   l.OpenDatetimeUTC,
			OriginalQuantity:  l.OriginalQuantity,
			RemainingQuantity: l.RemainingQuantity,
			OpenPrice:         l.OpenPrice,
			OpenFeePerUnit:    l.OpenFeePerUnit,
			OpenFXRateToBase:  l.OpenFXRateToBase,
			Closed:            l.Closed,
		})
	}

	mark, err := resolveMark(ctx, db, accountID, instrumentID, reportDate, fills)
	if err != nil {
		return err
	}

	instrumentCurrency := inst.Currency
	fx, err := resolveFX(ctx, db, accountID, instrumentCurrency, baseCurrency, reportDate, fills)
	if err != nil {
		return err
	}

	snap := ledger.BuildSnapshot(ledger.SnapshotInput{
		OpenLots:          ledgerLots,
		RealizedPnLToDate: realizedToDate,
		Mark:              mark,
		FX:                fx,
		Cashflows:         dayTotals,
		Currency:          instrumentCurrency,
	})

	storeSnap := store.PnLSnapshot{
		AccountID:        accountID,
		InstrumentID:     instrumentID,
		ReportDate:       reportDate,
		QuantityEndOfDay: snap.QuantityEndOfDay,
		CostBasis:        snap.CostBasis,
		RealizedPnLDay:   snap.RealizedPnL,
		UnrealizedPnLDay: snap.UnrealizedPnL,
		TotalPnL:         snap.TotalPnL,
		Fees:             snap.Fees,
		WithholdingTax:   snap.WithholdingTax,
		Currency:         instrumentCurrency,
		MarkSource:       string(mark.Source),
		FXSource:         string(fx.Source),
		Provisional:      snap.Provisional,
		SourceRunID:      runID,
	}
	if mark.Resolved {
		storeSnap.MarkPrice = decimal.NullDecimal{Decimal: mark.Mark, Valid: true}
	}
	if fx.Resolved {
		storeSnap.FXRateToBase = decimal.NullDecimal{Decimal: fx.Rate, Valid: true}
	}

	if _, err := db.UpsertSnapshot(ctx, storeSnap); err != nil {
		return fmt.Errorf("failed to persist snapshot for instrument %d: %w", instrumentID, err)
	}
	return nil
}

func resolveMark(ctx context.Context, db *store.DB, accountID string, instrumentID int64, reportDate time.Time, fills []*store.TradeFill) (valuation.EODMarkResult, error) {
	openMark, err := db.OpenPositionMarkForDate(ctx, accountID, instrumentID, reportDate)
	var markPrice decimal.NullDecimal
	if err == nil {
		markPrice = openMark.MarkPrice
	} else if err != store.ErrNotFound {
		return valuation.EODMarkResult{}, fmt.Errorf("failed to load open position mark for instrument %d: %w", instrumentID, err)
	}

	var reportDateTrades, priorTrades []valuation.TradeMarkCandidate
	for _, f := range fills {
		txID, _ := money.ParseInt(f.TransactionID)
		candidate := valuation.TradeMarkCandidate{
			DateTimeUTC:   f.TradeDatetimeUTC,
			TransactionID: txID,
			RawRecordID:   f.SourceRawRecordID,
			ReportDate:    ledger.ReportDateInLocation(f.TradeDatetimeUTC, reportDate.Location()),
			ClosePrice:    f.ClosePrice,
			TradePrice:    f.Price,
		}
		if candidate.ReportDate.Equal(reportDate) {
			reportDateTrades = append(reportDateTrades, candidate)
		}
		if !candidate.ReportDate.After(reportDate) {
			priorTrades = append(priorTrades, candidate)
		}
	}

	return valuation.ResolveEODMark(markPrice, reportDateTrades, priorTrades), nil
}

// resolveFX resolves the execution FX rate for an instrument's currency as
// of reportDate. The priority-1/2 sources (a trade's own fxRateToBase, or
// the netCash-derived rate) are read off the most recent fill on or before
// the report date, since both are transaction-scoped fields; priority-3
// falls back to the ConversionRates history for the currency pair.
func resolveFX(ctx context.Context, db *store.DB, accountID, currency, base string, reportDate time.Time, fills []*store.TradeFill) (valuation.FXResult, error) {
	if currency == base {
		return valuation.ResolveExecutionFX(currency, base, decimal.NullDecimal{}, decimal.NullDecimal{}, decimal.NullDecimal{}, nil, reportDate), nil
	}

	var latest *store.TradeFill
	for _, f := range fills {
		if ledger.ReportDateInLocation(f.TradeDatetimeUTC, reportDate.Location()).After(reportDate) {
			continue
		}
		if latest == nil || f.TradeDatetimeUTC.After(latest.TradeDatetimeUTC) {
			latest = f
		}
	}

	var fxRateToBase, netCash, netCashInBase decimal.NullDecimal
	if latest != nil {
		fxRateToBase = latest.FXRateToBase
		netCash = latest.NetCash
		netCashInBase = latest.NetCashInBase
	}

	// ConversionRates dates are stored as UTC midnight of their calendar day.
	rateDate := time.Date(reportDate.Year(), reportDate.Month(), reportDate.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := db.ConversionRatesOnOrBefore(ctx, accountID, currency, base, rateDate)
	if err != nil {
		return valuation.FXResult{}, fmt.Errorf("failed to load conversion rates for %s/%s: %w", currency, base, err)
	}
	candidates := make([]valuation.ConversionRateCandidate, 0, len(rows))
	for _, r := range rows {
		candidates = append(candidates, valuation.ConversionRateCandidate{
			Date:         r.Date,
			Rate:         r.Rate,
			RunStartedAt: r.RunStartedAt,
			RawRecordID:  r.SourceRawRecordID,
		})
	}

	return valuation.ResolveExecutionFX(currency, base, fxRateToBase, netCash, netCashInBase, candidates, rateDate), nil
}

func sameCalendarDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// dateOnOrBefore compares two calendar dates (year/month/day as each
// time.Time reports them) regardless of clock/zone, the comparison settle
// dates and report dates need since neither carries a meaningful time of day.
func dateOnOrBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad <= bd
}

// cashflowTotals aggregates fee/withholding-tax cashflows into the same-day
// totals a snapshot reports (spec §4.9) and the cumulative withholding tax
// through reportDate that adjusts the realized P&L bucket (spec §4.8).
func cashflowTotals(cashflows []*store.CashflowAmount, reportDate time.Time) (dayTotals ledger.CashflowTotals, withholdingToDate decimal.Decimal) {
	dayTotals = ledger.CashflowTotals{Fees: decimal.Zero, WithholdingTax: decimal.Zero}
	withholdingToDate = decimal.Zero
	for _, c := range cashflows {
		if !dateOnOrBefore(c.SettleDate, reportDate) {
			continue
		}
		sameDay := sameCalendarDate(c.SettleDate, reportDate)
		switch c.Kind {
		case "fee":
			if sameDay {
				dayTotals.Fees = dayTotals.Fees.Add(c.Amount.Abs())
			}
		case "withholding_tax":
			withholdingToDate = withholdingToDate.Add(c.Amount.Abs())
			if sameDay {
				dayTotals.WithholdingTax = dayTotals.WithholdingTax.Add(c.Amount.Abs())
			}
		}
	}
	return dayTotals, withholdingToDate
}
