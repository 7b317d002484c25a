// Package valuation implements the two frozen ordered source hierarchies
// that resolve an EOD mark and an execution FX rate for a canonical event
// (C7, spec §4.6). Both resolvers are pure functions over candidate slices
// the caller (C8's ledger/snapshot assembly) has already loaded from the
// store: this package never queries the database itself.
package valuation

import (
	"time"

	"github.com/aristath/ibkr-flexsync/internal/money"
	"github.com/shopspring/decimal"
)

// MarkSource labels which source hierarchy entry produced an EOD mark.
// Closed enumeration; unknown values must be rejected at the boundary.
type MarkSource string

const (
	MarkSourceOpenPosition         MarkSource = "open_position_mark"
	MarkSourceTradeClosePrice      MarkSource = "trade_close_price"
	MarkSourceTradePriceOnOrBefore MarkSource = "trade_price_on_or_before"
)

// FXSource labels which source hierarchy entry produced an execution FX rate.
type FXSource string

const (
	FXSourceIdentity        FXSource = "identity"
	FXSourceTradeRateToBase FXSource = "trade_fx_rate_to_base"
	FXSourceDerived         FXSource = "derived"
	FXSourceConversionRate  FXSource = "conversion_rate"
)

// Diagnostic codes for provisional valuation/FX outputs (spec §4.6). These
// never abort a run; they are carried on the snapshot as labels.
const (
	DiagEODMarkFallbackLastTrade = "EOD_MARK_FALLBACK_LAST_TRADE"
	DiagEODMarkMissingAllSources = "EOD_MARK_MISSING_ALL_SOURCES"
	DiagFXRateMissingAllSources  = "FX_RATE_MISSING_ALL_SOURCES"
)

// TradeMarkCandidate is one trade fill's contribution to the EOD mark
// priority-2/3 sources. ReportDate is the trade's local report date,
// already derived by the caller.
type TradeMarkCandidate struct {
	DateTimeUTC   time.Time
	TransactionID int64
	RawRecordID   int64
	ReportDate    time.Time
	ClosePrice    decimal.NullDecimal
	TradePrice    decimal.Decimal
}

// EODMarkResult is the resolved EOD mark plus its provenance.
type EODMarkResult struct {
	Mark           decimal.Decimal
	Source         MarkSource
	Resolved       bool
	Provisional    bool
	DiagnosticCode string
}

// ResolveEODMark applies the frozen three-level hierarchy (spec §4.6):
// the broker-reported open position mark, then the closing trade price on
// the report date, then the last known trade price on or before it.
// reportDateTrades and priorTrades are both scoped by the caller to one
// conid; priorTrades additionally must already be filtered to
// DateTimeUTC's local date <= reportDate.
func ResolveEODMark(openPositionMark decimal.NullDecimal, reportDateTrades, priorTrades []TradeMarkCandidate) EODMarkResult {
	if openPositionMark.Valid {
		return EODMarkResult{Mark: openPositionMark.Decimal, Source: MarkSourceOpenPosition, Resolved: true}
	}

	if best, ok := bestTradeMark(reportDateTrades, true); ok {
		return EODMarkResult{Mark: best.ClosePrice.Decimal, Source: MarkSourceTradeClosePrice, Resolved: true}
	}

	if best, ok := bestTradeMark(priorTrades, false); ok {
		return EODMarkResult{
			Mark:           best.TradePrice,
			Source:         MarkSourceTradePriceOnOrBefore,
			Resolved:       true,
			Provisional:    true,
			DiagnosticCode: DiagEODMarkFallbackLastTrade,
		}
	}

	return EODMarkResult{Provisional: true, DiagnosticCode: DiagEODMarkMissingAllSources}
}

// bestTradeMark picks the candidate with the latest DateTimeUTC, then the
// highest TransactionID, then the highest RawRecordID (applied to both the
// priority-2 and priority-3 pools). requireClosePrice restricts the pool to candidates
// whose ClosePrice is valid, for the priority-2 source.
func bestTradeMark(candidates []TradeMarkCandidate, requireClosePrice bool) (TradeMarkCandidate, bool) {
	var best TradeMarkCandidate
	found := false
	for _, c := range candidates {
		if requireClosePrice && !c.ClosePrice.Valid {
			continue
		}
		if !found || tradeMarkLess(best, c) {
			best = c
			found = true
		}
	}
	return best, found
}

func tradeMarkLess(a, b TradeMarkCandidate) bool {
	if !a.DateTimeUTC.Equal(b.DateTimeUTC) {
		return a.DateTimeUTC.Before(b.DateTimeUTC)
	}
	if a.TransactionID != b.TransactionID {
		return a.TransactionID < b.TransactionID
	}
	return a.RawRecordID < b.RawRecordID
}

// ConversionRateCandidate is one ConversionRates row's contribution to the
// execution FX priority-3 source.
type ConversionRateCandidate struct {
	Date         time.Time
	Rate         decimal.Decimal
	RunStartedAt time.Time
	RawRecordID  int64
}

// FXResult is the resolved execution FX rate plus its provenance.
type FXResult struct {
	Rate           decimal.Decimal
	Source         FXSource
	Resolved       bool
	Provisional    bool
	DiagnosticCode string
}

// ResolveExecutionFX applies the frozen three-level hierarchy (spec §4.6):
// the trade's own fxRateToBase, then a derived rate from net cash in both
// currencies, then the nearest-previous-date conversion rate. currency ==
// base always resolves to an identity rate of 1.0 regardless of the other
// sources.
func ResolveExecutionFX(currency, base string, fxRateToBase decimal.NullDecimal, netCash, netCashInBase decimal.NullDecimal, conversionRates []ConversionRateCandidate, reportDate time.Time) FXResult {
	if currency == base {
		return FXResult{Rate: decimal.NewFromInt(1), Source: FXSourceIdentity, Resolved: true}
	}

	if fxRateToBase.Valid {
		return FXResult{Rate: fxRateToBase.Decimal, Source: FXSourceTradeRateToBase, Resolved: true}
	}

	if netCash.Valid && netCashInBase.Valid && !netCash.Decimal.IsZero() {
		rate := money.RoundHalfEven(netCashInBase.Decimal.Abs().Div(netCash.Decimal.Abs()), money.FXScale)
		return FXResult{Rate: rate, Source: FXSourceDerived, Resolved: true}
	}

	if candidate, ok := bestConversionRate(conversionRates, reportDate); ok {
		return FXResult{Rate: candidate.Rate, Source: FXSourceConversionRate, Resolved: true}
	}

	return FXResult{Provisional: true, DiagnosticCode: DiagFXRateMissingAllSources}
}

// bestConversionRate picks the exact-date match when one exists, else the
// candidate with the latest date not after reportDate. Within the winning
// date, ties break on latest RunStartedAt then highest RawRecordID.
func bestConversionRate(candidates []ConversionRateCandidate, reportDate time.Time) (ConversionRateCandidate, bool) {
	var best ConversionRateCandidate
	found := false
	for _, c := range candidates {
		if c.Date.After(reportDate) {
			continue
		}
		if !found {
			best, found = c, true
			continue
		}
		if conversionRateBetter(c, best, reportDate) {
			best = c
		}
	}
	return best, found
}

func conversionRateBetter(c, best ConversionRateCandidate, reportDate time.Time) bool {
	if !c.Date.Equal(best.Date) {
		// Exact-date match always wins over any earlier date.
		if c.Date.Equal(reportDate) {
			return true
		}
		if best.Date.Equal(reportDate) {
			return false
		}
		return c.Date.After(best.Date)
	}
	if !c.RunStartedAt.Equal(best.RunStartedAt) {
		return c.RunStartedAt.After(best.RunStartedAt)
	}
	return c.RawRecordID > best.RawRecordID
}
