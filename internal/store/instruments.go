package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument is a row of instrument, identified conid-first per spec §4.6.
type Instrument struct {
	ID            int64
	Conid         string
	Symbol        string
	Description   string
	AssetCategory string
	Currency      string
	Multiplier    decimal.Decimal
}

// UpsertInstrument inserts or refreshes the descriptive fields of an
// instrument identified by conid. Instrument upsert always runs before event
// upserts that reference it, per the canonical mapper's ordering invariant.
func (db *DB) UpsertInstrument(ctx context.Context, runID string, inst Instrument) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO instrument (conid, symbol, description, asset_category, currency, multiplier, first_seen_run_id, last_seen_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (conid) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			description = EXCLUDED.description,
			asset_category = EXCLUDED.asset_category,
			currency = EXCLUDED.currency,
			multiplier = EXCLUDED.multiplier,
			last_seen_run_id = EXCLUDED.last_seen_run_id
		RETURNING id`,
		inst.Conid, inst.Symbol, inst.Description, inst.AssetCategory, inst.Currency, inst.Multiplier, runID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert instrument %s: %w", inst.Conid, err)
	}
	return id, nil
}

// GetInstrumentByConid loads an instrument by its conid.
func (db *DB) GetInstrumentByConid(ctx context.Context, conid string) (*Instrument, error) {
	inst := &Instrument{Conid: conid}
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, symbol, description, asset_category, currency, multiplier
		FROM instrument WHERE conid = $1`, conid,
	).Scan(&inst.ID, &inst.Symbol, &inst.Description, &inst.AssetCategory, &inst.Currency, &inst.Multiplier)
	if err != nil {
		return nil, fmt.Errorf("failed to load instrument %s: %w", conid, err)
	}
	return inst, nil
}

// GetInstrumentByID loads an instrument by its surrogate id, used by the
// snapshot stage which only carries ids resolved during canonical mapping.
func (db *DB) GetInstrumentByID(ctx context.Context, id int64) (*Instrument, error) {
	inst := &Instrument{ID: id}
	err := db.conn.QueryRowContext(ctx, `
		SELECT conid, symbol, description, asset_category, currency, multiplier
		FROM instrument WHERE id = $1`, id,
	).Scan(&inst.Conid, &inst.Symbol, &inst.Description, &inst.AssetCategory, &inst.Currency, &inst.Multiplier)
	if err != nil {
		return nil, fmt.Errorf("failed to load instrument %d: %w", id, err)
	}
	return inst, nil
}
