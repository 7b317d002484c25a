package canonical

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/ibkr-flexsync/internal/store"
)

// ApplyResult carries the per-kind upsert counts for the canonical_mapping
// stage's diagnostics payload (spec §4.1).
type ApplyResult struct {
	InstrumentUpserts       int
	TradeFillUpserts        int
	CashflowUpserts         int
	FXUpserts               int
	CorporateActionUpserts  int
	OpenPositionMarkUpserts int

	// TouchedInstrumentIDs is every instrument resolved while applying this
	// batch, the input to the snapshot stage (it must recompute the ledger
	// for exactly the instruments this run's canonical rows reference).
	TouchedInstrumentIDs []int64
}

// ApplyBatch persists a Batch instrument-first, then each event kind, so
// every event row resolves instrument_id deterministically (spec §4.5).
func ApplyBatch(ctx context.Context, db *store.DB, runID string, batch *Batch) (*ApplyResult, error) {
	result := &ApplyResult{}

	instrumentIDs := make(map[string]int64, len(batch.Instruments))
	for _, inst := range batch.Instruments {
		id, err := db.UpsertInstrument(ctx, runID, inst)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert instrument %s: %w", inst.Conid, err)
		}
		instrumentIDs[inst.Conid] = id
		result.InstrumentUpserts++
	}

	for i := range batch.TradeFills {
		f := batch.TradeFills[i]
		conid := batch.tradeFillConids[i]
		id, ok := instrumentIDs[conid]
		if !ok {
			return nil, fmt.Errorf("trade fill %s references unresolved instrument %s", f.TradeID, conid)
		}
		f.InstrumentID = id
		if _, err := db.UpsertTradeFill(ctx, f); err != nil {
			return nil, fmt.Errorf("failed to upsert trade fill %s: %w", f.TradeID, err)
		}
		result.TradeFillUpserts++
	}

	for i := range batch.Cashflows {
		applied, err := applyCashflow(ctx, db, batch.Cashflows[i])
		if err != nil {
			return nil, err
		}
		if applied {
			result.CashflowUpserts++
		}
	}

	for i := range batch.FXTransactions {
		if _, err := db.UpsertFXTransaction(ctx, batch.FXTransactions[i]); err != nil {
			return nil, fmt.Errorf("failed to upsert fx transaction %s: %w", batch.FXTransactions[i].TransactionID, err)
		}
		result.FXUpserts++
	}

	for i := range batch.CorporateActions {
		ca := batch.CorporateActions[i]
		conid := batch.corporateActionConids[i]
		id, ok := instrumentIDs[conid]
		if !ok {
			return nil, fmt.Errorf("corporate action %s references unresolved instrument %s", ca.NaturalKey, conid)
		}
		ca.InstrumentID = id
		if _, err := db.UpsertCorporateAction(ctx, ca); err != nil {
			return nil, fmt.Errorf("failed to upsert corporate action %s: %w", ca.NaturalKey, err)
		}
		result.CorporateActionUpserts++
	}

	for i := range batch.OpenPositionMarks {
		m := batch.OpenPositionMarks[i]
		conid := batch.openPositionMarkConids[i]
		id, ok := instrumentIDs[conid]
		if !ok {
			return nil, fmt.Errorf("open position mark on %s references unresolved instrument %s", m.ReportDate.Format("2006-01-02"), conid)
		}
		m.InstrumentID = id
		if _, err := db.UpsertOpenPositionMark(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to upsert open position mark for instrument %s: %w", conid, err)
		}
		result.OpenPositionMarkUpserts++
	}

	result.TouchedInstrumentIDs = make([]int64, 0, len(instrumentIDs))
	for _, id := range instrumentIDs {
		result.TouchedInstrumentIDs = append(result.TouchedInstrumentIDs, id)
	}

	return result, nil
}

// applyCashflow implements the correction-vs-no-op rule: a duplicate natural
// key with an identical amount and settle date is a no-op; any difference
// is an upsert with is_correction set (spec §4.5).
func applyCashflow(ctx context.Context, db *store.DB, c store.Cashflow) (bool, error) {
	existing, err := db.GetCashflowByNaturalKey(ctx, c.AccountID, c.TransactionID, c.Kind, c.Currency)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to look up existing cashflow %s: %w", c.TransactionID, err)
	}
	if err == nil {
		sameAmount := existing.Amount.Equal(c.Amount)
		sameDate := existing.SettleDate.Equal(c.SettleDate)
		if sameAmount && sameDate {
			return false, nil
		}
		c.IsCorrection = true
	}
	if _, err := db.UpsertCashflow(ctx, c); err != nil {
		return false, fmt.Errorf("failed to upsert cashflow %s: %w", c.TransactionID, err)
	}
	return true, nil
}
