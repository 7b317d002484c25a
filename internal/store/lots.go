package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionLot is a row of position_lot: one FIFO-matched opening lot tracked
// by the ledger engine (C8).
type PositionLot struct {
	ID                int64
	AccountID         string
	InstrumentID      int64
	OpenedTradeID     string
	OpenDatetimeUTC   time.Time
	OriginalQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	OpenPrice         decimal.Decimal
	OpenFeePerUnit    decimal.Decimal
	OpenFXRateToBase  decimal.NullDecimal
	Closed            bool
}

// UpsertLot inserts a new lot or replaces an existing one for the same
// opening trade, used when the ledger is rebuilt from scratch for an
// instrument (the FIFO engine always recomputes lots for the full trade
// history rather than incrementally patching them).
func (db *DB) UpsertLot(ctx context.Context, l PositionLot) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO position_lot (
			account_id, instrument_id, opened_trade_id, open_datetime_utc,
			original_quantity, remaining_quantity, open_price, open_fee_per_unit,
			open_fx_rate_to_base, closed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (account_id, instrument_id, opened_trade_id) DO UPDATE SET
			open_datetime_utc = EXCLUDED.open_datetime_utc,
			original_quantity = EXCLUDED.original_quantity,
			remaining_quantity = EXCLUDED.remaining_quantity,
			open_price = EXCLUDED.open_price,
			open_fee_per_unit = EXCLUDED.open_fee_per_unit,
			open_fx_rate_to_base = EXCLUDED.open_fx_rate_to_base,
			closed = EXCLUDED.closed
		RETURNING id`,
		l.AccountID, l.InstrumentID, l.OpenedTradeID, l.OpenDatetimeUTC,
		l.OriginalQuantity, l.RemainingQuantity, l.OpenPrice, l.OpenFeePerUnit,
		l.OpenFXRateToBase, l.Closed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert position lot %s: %w", l.OpenedTradeID, err)
	}
	return id, nil
}

// LotsByInstrument loads every lot for an instrument in FIFO opening order.
func (db *DB) LotsByInstrument(ctx context.Context, accountID string, instrumentID int64) ([]*PositionLot, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, opened_trade_id, open_datetime_utc, original_quantity, remaining_quantity,
		       open_price, open_fee_per_unit, open_fx_rate_to_base, closed
		FROM position_lot
		WHERE account_id = $1 AND instrument_id = $2
		ORDER BY open_datetime_utc, id`, accountID, instrumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load lots for instrument %d: %w", instrumentID, err)
	}
	defer rows.Close()

	var out []*PositionLot
	for rows.Next() {
		l := &PositionLot{AccountID: accountID, InstrumentID: instrumentID}
		if err := rows.Scan(&l.ID, &l.OpenedTradeID, &l.OpenDatetimeUTC, &l.OriginalQuantity,
			&l.RemainingQuantity, &l.OpenPrice, &l.OpenFeePerUnit, &l.OpenFXRateToBase, &l.Closed); err != nil {
			return nil, fmt.Errorf("failed to scan position lot: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
