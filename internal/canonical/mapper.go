// Package canonical maps raw Flex rows to the four canonical event kinds
// (trade fill, cashflow, FX, corporate action) plus the derived instrument
// catalogue (C6, spec §4.5). It routes strictly by section name, never by
// substring matches on source_row_ref.
package canonical

import (
	"fmt"
	"time"

	"github.com/aristath/ibkr-flexsync/internal/money"
	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/shopspring/decimal"
)

// Batch is the output of BuildCanonicalBatch: the four event-kind slices
// plus the derived instrument slice, ready to be applied in
// instrument-first order.
type Batch struct {
	Instruments       []store.Instrument
	TradeFills        []store.TradeFill
	Cashflows         []store.Cashflow
	FXTransactions    []store.FXTransaction
	CorporateActions  []store.CorporateAction
	OpenPositionMarks []store.OpenPositionMark

	// tradeFillConids, corporateActionConids, and openPositionMarkConids
	// parallel TradeFills, CorporateActions, and OpenPositionMarks by index:
	// instrument upsert happens first and assigns database ids, so these
	// events are mapped with their conid string and only get InstrumentID
	// filled in once ApplyBatch knows it.
	tradeFillConids        []string
	corporateActionConids  []string
	openPositionMarkConids []string
}

// row wraps one raw record's attributes with the context needed to raise a
// precisely located contract violation.
type row struct {
	section string
	ref     string
	id      int64
	attrs   map[string]string
}

func (r row) raw(field string) string { return r.attrs[field] }

// requiredAmount parses field as a fixed-decimal amount, raising a contract
// violation if the field is a sentinel or fails to parse.
func (r row) requiredAmount(field string) (decimal.Decimal, error) {
	raw := r.raw(field)
	if money.IsSentinel(raw) {
		return decimal.Decimal{}, violation(r.section, r.ref, field, raw, fmt.Errorf("required field is null"))
	}
	d, err := money.ParseAmount(raw)
	if err != nil {
		return decimal.Decimal{}, violation(r.section, r.ref, field, raw, err)
	}
	return d, nil
}

// optionalAmount parses field as a fixed-decimal amount, returning a
// not-valid NullDecimal (no error) when the field is a sentinel.
func (r row) optionalAmount(field string) (decimal.NullDecimal, error) {
	raw := r.raw(field)
	if money.IsSentinel(raw) {
		return decimal.NullDecimal{}, nil
	}
	d, err := money.ParseAmount(raw)
	if err != nil {
		return decimal.NullDecimal{}, violation(r.section, r.ref, field, raw, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func (r row) requiredFXRate(field string) (decimal.Decimal, error) {
	raw := r.raw(field)
	if money.IsSentinel(raw) {
		return decimal.Decimal{}, violation(r.section, r.ref, field, raw, fmt.Errorf("required field is null"))
	}
	d, err := money.ParseFXRate(raw)
	if err != nil {
		return decimal.Decimal{}, violation(r.section, r.ref, field, raw, err)
	}
	return d, nil
}

func (r row) optionalFXRate(field string) (decimal.NullDecimal, error) {
	raw := r.raw(field)
	if money.IsSentinel(raw) {
		return decimal.NullDecimal{}, nil
	}
	d, err := money.ParseFXRate(raw)
	if err != nil {
		return decimal.NullDecimal{}, violation(r.section, r.ref, field, raw, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func (r row) requiredDate(field string) (time.Time, error) {
	raw := r.raw(field)
	if money.IsSentinel(raw) {
		return time.Time{}, violation(r.section, r.ref, field, raw, fmt.Errorf("required field is null"))
	}
	t, err := money.ParseDate(raw)
	if err != nil {
		return time.Time{}, violation(r.section, r.ref, field, raw, err)
	}
	return t, nil
}

func (r row) requiredUTCTimestamp(field string) (time.Time, error) {
	raw := r.raw(field)
	if money.IsSentinel(raw) {
		return time.Time{}, violation(r.section, r.ref, field, raw, fmt.Errorf("required field is null"))
	}
	t, err := money.ParseUTCTimestamp(raw)
	if err != nil {
		return time.Time{}, violation(r.section, r.ref, field, raw, err)
	}
	return t, nil
}

func (r row) requiredString(field string) (string, error) {
	raw := r.raw(field)
	if money.IsSentinel(raw) {
		return "", violation(r.section, r.ref, field, raw, fmt.Errorf("required field is null"))
	}
	return raw, nil
}

// BuildCanonicalBatch maps the raw rows belonging to the current run into a
// canonical Batch. rawRows must already be scoped to the current run by the
// caller (the ingestion orchestrator); if rawRows is empty the caller should
// treat canonical_mapping as a no-op rather than calling this function.
func BuildCanonicalBatch(accountID, runID string, rawRows []*store.RawRecord) (*Batch, error) {
	batch := &Batch{}
	instruments := map[string]store.Instrument{}

	for _, r := range rawRows {
		rw := row{section: r.Section, ref: r.SourceRowRef, id: r.ID, attrs: r.Attributes}

		switch r.Section {
		case "Trades":
			fill, inst, err := mapTradeFill(accountID, runID, rw)
			if err != nil {
				return nil, err
			}
			batch.TradeFills = append(batch.TradeFills, fill)
			batch.tradeFillConids = append(batch.tradeFillConids, inst.Conid)
			mergeInstrument(instruments, *inst)
		case "CashTransactions":
			cf, err := mapCashflow(accountID, runID, rw)
			if err != nil {
				return nil, err
			}
			batch.Cashflows = append(batch.Cashflows, cf)
		case "ConversionRates":
			fx, err := mapConversionRate(accountID, runID, rw)
			if err != nil {
				return nil, err
			}
			batch.FXTransactions = append(batch.FXTransactions, fx)
		case "CorporateActions":
			ca, inst, err := mapCorporateAction(accountID, runID, rw)
			if err != nil {
				return nil, err
			}
			batch.CorporateActions = append(batch.CorporateActions, ca)
			batch.corporateActionConids = append(batch.corporateActionConids, inst.Conid)
			mergeInstrument(instruments, *inst)
		case "OpenPositions":
			mark, inst, err := mapOpenPositionMark(accountID, runID, rw)
			if err != nil {
				return nil, err
			}
			batch.OpenPositionMarks = append(batch.OpenPositionMarks, mark)
			batch.openPositionMarkConids = append(batch.openPositionMarkConids, inst.Conid)
			mergeInstrument(instruments, *inst)
		default:
			// Persisted raw only; not routed to any canonical kind.
		}
	}

	for _, inst := range instruments {
		batch.Instruments = append(batch.Instruments, inst)
	}
	return batch, nil
}

func mergeInstrument(instruments map[string]store.Instrument, inst store.Instrument) {
	if existing, ok := instruments[inst.Conid]; ok {
		if inst.Symbol != "" {
			existing.Symbol = inst.Symbol
		}
		if inst.Description != "" {
			existing.Description = inst.Description
		}
		if inst.AssetCategory != "" {
			existing.AssetCategory = inst.AssetCategory
		}
		if inst.Currency != "" {
			existing.Currency = inst.Currency
		}
		instruments[inst.Conid] = existing
		return
	}
	instruments[inst.Conid] = inst
}
