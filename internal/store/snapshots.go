package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PnLSnapshot is a row of pnl_snapshot_daily: the assembled end-of-day
// position and P&L for one instrument, keyed to the local business report
// date (spec §4.9). Invariant: TotalPnL = RealizedPnLDay + UnrealizedPnLDay.
type PnLSnapshot struct {
	ID               int64
	AccountID        string
	InstrumentID     int64
	ReportDate       time.Time
	QuantityEndOfDay decimal.Decimal
	CostBasis        decimal.Decimal
	RealizedPnLDay   decimal.Decimal
	UnrealizedPnLDay decimal.Decimal
	TotalPnL         decimal.Decimal
	Fees             decimal.Decimal
	WithholdingTax   decimal.Decimal
	Currency         string
	MarkPrice        decimal.NullDecimal
	MarkSource       string
	FXRateToBase     decimal.NullDecimal
	FXSource         string
	Provisional      bool
	SourceRunID      string
}

// UpsertSnapshot upserts one daily P&L snapshot by its natural key
// (account, instrument, report_date). Reruns over identical canonical
// events converge to byte-identical rows (spec §4.10).
func (db *DB) UpsertSnapshot(ctx context.Context, s PnLSnapshot) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO pnl_snapshot_daily (
			account_id, instrument_id, report_date, quantity_end_of_day, cost_basis,
			realized_pnl_day, unrealized_pnl_day, total_pnl, fees, withholding_tax, currency,
			mark_price, mark_source, fx_rate_to_base, fx_source, provisional, source_run_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (account_id, instrument_id, report_date) DO UPDATE SET
			quantity_end_of_day = EXCLUDED.quantity_end_of_day,
			cost_basis = EXCLUDED.cost_basis,
			realized_pnl_day = EXCLUDED.realized_pnl_day,
			unrealized_pnl_day = EXCLUDED.unrealized_pnl_day,
			total_pnl = EXCLUDED.total_pnl,
			fees = EXCLUDED.fees,
			withholding_tax = EXCLUDED.withholding_tax,
			currency = EXCLUDED.currency,
			mark_price = EXCLUDED.mark_price,
			mark_source = EXCLUDED.mark_source,
			fx_rate_to_base = EXCLUDED.fx_rate_to_base,
			fx_source = EXCLUDED.fx_source,
			provisional = EXCLUDED.provisional,
			source_run_id = EXCLUDED.source_run_id,
			generated_at_utc = now()
		RETURNING id`,
		s.AccountID, s.InstrumentID, s.ReportDate, s.QuantityEndOfDay, s.CostBasis,
		s.RealizedPnLDay, s.UnrealizedPnLDay, s.TotalPnL, s.Fees, s.WithholdingTax, s.Currency,
		s.MarkPrice, s.MarkSource, s.FXRateToBase, s.FXSource, s.Provisional, s.SourceRunID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert snapshot for instrument %d on %s: %w", s.InstrumentID, s.ReportDate.Format("2006-01-02"), err)
	}
	return id, nil
}

// SnapshotsByDate loads every instrument's snapshot for a report date.
func (db *DB) SnapshotsByDate(ctx context.Context, accountID string, reportDate time.Time) ([]*PnLSnapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, instrument_id, quantity_end_of_day, cost_basis, realized_pnl_day,
		       unrealized_pnl_day, total_pnl, fees, withholding_tax, currency,
		       mark_price, mark_source, fx_rate_to_base, fx_source, provisional, source_run_id
		FROM pnl_snapshot_daily
		WHERE account_id = $1 AND report_date = $2
		ORDER BY instrument_id`, accountID, reportDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots for %s: %w", reportDate.Format("2006-01-02"), err)
	}
	defer rows.Close()

	var out []*PnLSnapshot
	for rows.Next() {
		s := &PnLSnapshot{AccountID: accountID, ReportDate: reportDate}
		if err := rows.Scan(&s.ID, &s.InstrumentID, &s.QuantityEndOfDay, &s.CostBasis, &s.RealizedPnLDay,
			&s.UnrealizedPnLDay, &s.TotalPnL, &s.Fees, &s.WithholdingTax, &s.Currency,
			&s.MarkPrice, &s.MarkSource, &s.FXRateToBase, &s.FXSource, &s.Provisional, &s.SourceRunID); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
