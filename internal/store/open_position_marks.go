package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OpenPositionMark is a row of open_position_mark: the broker-reported mark
// price for one instrument as of one local report date, the priority-1
// candidate for the EOD mark resolver (spec §4.6).
type OpenPositionMark struct {
	ID                int64
	AccountID         string
	InstrumentID      int64
	ReportDate        time.Time
	MarkPrice         decimal.NullDecimal
	SourceRawRecordID int64
	SourceRunID       string
}

// UpsertOpenPositionMark upserts one mark by its natural key
// (account_id, instrument_id, report_date). Re-ingesting the same report
// date replaces the mark with the latest observation.
func (db *DB) UpsertOpenPositionMark(ctx context.Context, m OpenPositionMark) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO open_position_mark (
			account_id, instrument_id, report_date, mark_price, source_raw_record_id, source_run_id
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (account_id, instrument_id, report_date) DO UPDATE SET
			mark_price = EXCLUDED.mark_price,
			source_raw_record_id = EXCLUDED.source_raw_record_id,
			source_run_id = EXCLUDED.source_run_id,
			updated_at_utc = now()
		RETURNING id`,
		m.AccountID, m.InstrumentID, m.ReportDate, m.MarkPrice, m.SourceRawRecordID, m.SourceRunID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert open position mark for instrument %d on %s: %w",
			m.InstrumentID, m.ReportDate.Format("2006-01-02"), err)
	}
	return id, nil
}

// OpenPositionMarkForDate loads the mark for one instrument on one report
// date, if any.
func (db *DB) OpenPositionMarkForDate(ctx context.Context, accountID string, instrumentID int64, reportDate time.Time) (*OpenPositionMark, error) {
	m := &OpenPositionMark{AccountID: accountID, InstrumentID: instrumentID, ReportDate: reportDate}
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, mark_price, source_raw_record_id, source_run_id
		FROM open_position_mark
		WHERE account_id = $1 AND instrument_id = $2 AND report_date = $3`,
		accountID, instrumentID, reportDate,
	).Scan(&m.ID, &m.MarkPrice, &m.SourceRawRecordID, &m.SourceRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up open position mark for instrument %d on %s: %w",
			instrumentID, reportDate.Format("2006-01-02"), err)
	}
	return m, nil
}
