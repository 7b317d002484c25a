package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeFill is a row of event_trade_fill. Its natural key is
// (account_id, trade_id, execution_id) and is frozen: re-ingesting the same
// execution updates the existing row rather than creating a duplicate
// (spec §4.6).
type TradeFill struct {
	ID                int64
	AccountID         string
	InstrumentID      int64
	TradeID           string
	ExecutionID       string
	TradeDatetimeUTC  time.Time
	Quantity          decimal.Decimal
	Price             decimal.Decimal
	Proceeds          decimal.Decimal
	Commission        decimal.Decimal
	Fees              decimal.Decimal
	TradeCurrency     string
	FXRateToBase      decimal.NullDecimal
	ClosePrice        decimal.NullDecimal
	NetCash           decimal.NullDecimal
	NetCashInBase     decimal.NullDecimal
	TransactionID     string
	SourceRawRecordID int64
	SourceRunID       string
}

// UpsertTradeFill upserts one trade fill event by its natural key. On
// collision, source_run_id is deliberately NOT overwritten: the row keeps
// the run that first observed it, per spec §4.5 ("preserving the
// ingestion_run_id of the earliest observation"), while mutable numeric
// fields (commission, fees, proceeds, fx rate, close price, net cash) are
// refreshed.
func (db *DB) UpsertTradeFill(ctx context.Context, f TradeFill) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO event_trade_fill (
			account_id, instrument_id, trade_id, execution_id, trade_datetime_utc,
			quantity, price, proceeds, commission, fees, trade_currency, fx_rate_to_base,
			close_price, net_cash, net_cash_in_base, transaction_id,
			source_raw_record_id, source_run_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (account_id, trade_id, execution_id) DO UPDATE SET
			instrument_id = EXCLUDED.instrument_id,
			trade_datetime_utc = EXCLUDED.trade_datetime_utc,
			quantity = EXCLUDED.quantity,
			price = EXCLUDED.price,
			proceeds = EXCLUDED.proceeds,
			commission = EXCLUDED.commission,
			fees = EXCLUDED.fees,
			trade_currency = EXCLUDED.trade_currency,
			fx_rate_to_base = EXCLUDED.fx_rate_to_base,
			close_price = EXCLUDED.close_price,
			net_cash = EXCLUDED.net_cash,
			net_cash_in_base = EXCLUDED.net_cash_in_base,
			transaction_id = EXCLUDED.transaction_id,
			source_raw_record_id = EXCLUDED.source_raw_record_id,
			updated_at_utc = now()
		RETURNING id`,
		f.AccountID, f.InstrumentID, f.TradeID, f.ExecutionID, f.TradeDatetimeUTC,
		f.Quantity, f.Price, f.Proceeds, f.Commission, f.Fees, f.TradeCurrency, f.FXRateToBase,
		f.ClosePrice, f.NetCash, f.NetCashInBase, f.TransactionID,
		f.SourceRawRecordID, f.SourceRunID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert trade fill %s/%s: %w", f.TradeID, f.ExecutionID, err)
	}
	return id, nil
}

// TradeFillsByInstrument loads every trade fill for an instrument in
// chronological order, the input to FIFO lot matching (C8) and the EOD mark
// / execution FX resolvers (C7).
func (db *DB) TradeFillsByInstrument(ctx context.Context, accountID string, instrumentID int64) ([]*TradeFill, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, trade_id, execution_id, trade_datetime_utc, quantity, price, proceeds,
		       commission, fees, trade_currency, fx_rate_to_base, close_price, net_cash,
		       net_cash_in_base, transaction_id, source_raw_record_id, source_run_id
		FROM event_trade_fill
		WHERE account_id = $1 AND instrument_id = $2
		ORDER BY trade_datetime_utc, id`, accountID, instrumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade fills for instrument %d: %w", instrumentID, err)
	}
	defer rows.Close()

	var out []*TradeFill
	for rows.Next() {
		f := &TradeFill{AccountID: accountID, InstrumentID: instrumentID}
		if err := rows.Scan(&f.ID, &f.TradeID, &f.ExecutionID, &f.TradeDatetimeUTC, &f.Quantity, &f.Price,
			&f.Proceeds, &f.Commission, &f.Fees, &f.TradeCurrency, &f.FXRateToBase, &f.ClosePrice, &f.NetCash,
			&f.NetCashInBase, &f.TransactionID, &f.SourceRawRecordID, &f.SourceRunID); err != nil {
			return nil, fmt.Errorf("failed to scan trade fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Cashflow is a row of event_cashflow (dividends, interest, fees, withholding
// tax, transfers). Its natural key is (account_id, transaction_id, kind,
// currency): IBKR routinely reports a dividend and its withholding tax under
// the same transaction id, so transaction id alone is not unique.
type Cashflow struct {
	ID                int64
	AccountID         string
	InstrumentID      *int64
	TransactionID     string
	Kind              string
	SettleDate        time.Time
	Amount            decimal.Decimal
	Currency          string
	Description       string
	IsCorrection      bool
	SourceRawRecordID int64
	SourceRunID       string
}

// UpsertCashflow upserts one cashflow event by its natural key.
func (db *DB) UpsertCashflow(ctx context.Context, c Cashflow) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO event_cashflow (
			account_id, instrument_id, transaction_id, kind, settle_date, amount,
			currency, description, is_correction, source_raw_record_id, source_run_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (account_id, transaction_id, kind, currency) DO UPDATE SET
			instrument_id = EXCLUDED.instrument_id,
			settle_date = EXCLUDED.settle_date,
			amount = EXCLUDED.amount,
			description = EXCLUDED.description,
			is_correction = EXCLUDED.is_correction,
			source_raw_record_id = EXCLUDED.source_raw_record_id,
			source_run_id = EXCLUDED.source_run_id,
			updated_at_utc = now()
		RETURNING id`,
		c.AccountID, c.InstrumentID, c.TransactionID, c.Kind, c.SettleDate, c.Amount,
		c.Currency, c.Description, c.IsCorrection, c.SourceRawRecordID, c.SourceRunID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert cashflow %s: %w", c.TransactionID, err)
	}
	return id, nil
}

// GetCashflowByNaturalKey loads the existing cashflow for a natural key, if
// any, so the canonical mapper can decide correction-vs-no-op semantics
// before writing (spec §4.5). kind and currency complete the natural key
// alongside account and transaction id, since a single transaction id can
// carry more than one cashflow row (e.g. a dividend and its withholding tax).
func (db *DB) GetCashflowByNaturalKey(ctx context.Context, accountID, transactionID, kind, currency string) (*Cashflow, error) {
	c := &Cashflow{AccountID: accountID, TransactionID: transactionID, Kind: kind, Currency: currency}
	err := db.conn.QueryRowContext(ctx, `
		SELECT amount, settle_date FROM event_cashflow
		WHERE account_id = $1 AND transaction_id = $2 AND kind = $3 AND currency = $4`,
		accountID, transactionID, kind, currency,
	).Scan(&c.Amount, &c.SettleDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cashflow %s: %w", transactionID, err)
	}
	return c, nil
}

// CashflowAmount is one fee or withholding-tax cashflow row, the input to
// the daily snapshot's per-day totals and the cumulative withholding-tax
// P&L adjustment (spec §4.8-§4.9).
type CashflowAmount struct {
	Kind       string
	SettleDate time.Time
	Amount     decimal.Decimal
}

// FeeAndWithholdingCashflowsByInstrument loads every fee and
// withholding-tax cashflow event for an instrument, in settle-date order.
func (db *DB) FeeAndWithholdingCashflowsByInstrument(ctx context.Context, accountID string, instrumentID int64) ([]*CashflowAmount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT kind, settle_date, amount FROM event_cashflow
		WHERE account_id = $1 AND instrument_id = $2 AND kind IN ('fee', 'withholding_tax')
		ORDER BY settle_date`,
		accountID, instrumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load fee/withholding cashflows for instrument %d: %w", instrumentID, err)
	}
	defer rows.Close()

	var out []*CashflowAmount
	for rows.Next() {
		c := &CashflowAmount{}
		if err := rows.Scan(&c.Kind, &c.SettleDate, &c.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan cashflow amount row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FXTransaction is a row of event_fx (currency conversions). Its natural key
// is (account_id, transaction_id).
type FXTransaction struct {
	ID                int64
	AccountID         string
	TransactionID     string
	TradeDatetimeUTC  time.Time
	FromCurrency      string
	ToCurrency        string
	Quantity          decimal.Decimal
	Rate              decimal.Decimal
	Proceeds          decimal.Decimal
	SourceRawRecordID int64
	SourceRunID       string
}

// UpsertFXTransaction upserts one FX conversion event by its natural key.
func (db *DB) UpsertFXTransaction(ctx context.Context, f FXTransaction) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO event_fx (
			account_id, transaction_id, trade_datetime_utc, from_currency, to_currency,
			quantity, rate, proceeds, source_raw_record_id, source_run_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (account_id, transaction_id) DO UPDATE SET
			trade_datetime_utc = EXCLUDED.trade_datetime_utc,
			from_currency = EXCLUDED.from_currency,
			to_currency = EXCLUDED.to_currency,
			quantity = EXCLUDED.quantity,
			rate = EXCLUDED.rate,
			proceeds = EXCLUDED.proceeds,
			source_raw_record_id = EXCLUDED.source_raw_record_id,
			source_run_id = EXCLUDED.source_run_id,
			updated_at_utc = now()
		RETURNING id`,
		f.AccountID, f.TransactionID, f.TradeDatetimeUTC, f.FromCurrency, f.ToCurrency,
		f.Quantity, f.Rate, f.Proceeds, f.SourceRawRecordID, f.SourceRunID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert fx transaction %s: %w", f.TransactionID, err)
	}
	return id, nil
}

// FXRatesForDate loads every ConversionRates-derived FX row booked on the
// given UTC day, part of the execution FX resolver's priority-3 pool
// (spec §4.7); the snapshot stage reads that pool through
// ConversionRatesOnOrBefore.
func (db *DB) FXRatesForDate(ctx context.Context, accountID string, day time.Time, fromCurrency, toCurrency string) ([]*FXTransaction, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, transaction_id, trade_datetime_utc, quantity, rate, proceeds, source_raw_record_id, source_run_id
		FROM event_fx
		WHERE account_id = $1 AND from_currency = $2 AND to_currency = $3
		  AND trade_datetime_utc >= $4 AND trade_datetime_utc < $4 + interval '1 day'
		ORDER BY trade_datetime_utc`,
		accountID, fromCurrency, toCurrency, day,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load fx rates for %s: %w", day.Format("2006-01-02"), err)
	}
	defer rows.Close()

	var out []*FXTransaction
	for rows.Next() {
		f := &FXTransaction{AccountID: accountID, FromCurrency: fromCurrency, ToCurrency: toCurrency}
		if err := rows.Scan(&f.ID, &f.TransactionID, &f.TradeDatetimeUTC, &f.Quantity, &f.Rate, &f.Proceeds,
			&f.SourceRawRecordID, &f.SourceRunID); err != nil {
			return nil, fmt.Errorf("failed to scan fx transaction: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ConversionRatesOnOrBefore loads every ConversionRates-derived FX row for a
// currency pair dated on or before reportDate, ordered so the caller can
// pick the nearest-previous-date candidate for the execution FX resolver's
// priority-3 source (spec §4.6). RunStartedAt is joined in from
// ingestion_run to support the documented same-date tiebreak.
func (db *DB) ConversionRatesOnOrBefore(ctx context.Context, accountID, fromCurrency, toCurrency string, reportDate time.Time) ([]*ConversionRateRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT fx.trade_datetime_utc, fx.rate, fx.source_raw_record_id, run.started_at_utc
		FROM event_fx fx
		JOIN ingestion_run run ON run.id = fx.source_run_id
		WHERE fx.account_id = $1 AND fx.from_currency = $2 AND fx.to_currency = $3
		  AND fx.trade_datetime_utc <= $4
		ORDER BY fx.trade_datetime_utc DESC`,
		accountID, fromCurrency, toCurrency, reportDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversion rates for %s/%s: %w", fromCurrency, toCurrency, err)
	}
	defer rows.Close()

	var out []*ConversionRateRow
	for rows.Next() {
		r := &ConversionRateRow{}
		if err := rows.Scan(&r.Date, &r.Rate, &r.SourceRawRecordID, &r.RunStartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversion rate row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ConversionRateRow is one dated conversion-rate observation for a currency
// pair, the input to the execution FX resolver's priority-3 source.
type ConversionRateRow struct {
	Date              time.Time
	Rate              decimal.Decimal
	SourceRawRecordID int64
	RunStartedAt      time.Time
}

// CorporateAction is a row of event_corporate_action. Its natural key is
// (account_id, natural_key), where natural_key falls back to a deterministic
// composite when the upstream action id is absent (spec §4.6).
type CorporateAction struct {
	ID                int64
	AccountID         string
	InstrumentID      int64
	NaturalKey        string
	ActionID          string
	ActionType        string
	EffectiveDate     time.Time
	Quantity          decimal.NullDecimal
	Proceeds          decimal.NullDecimal
	Description       string
	SourceRawRecordID int64
	SourceRunID       string
}

// UpsertCorporateAction upserts one corporate action event by its natural key.
func (db *DB) UpsertCorporateAction(ctx context.Context, a CorporateAction) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO event_corporate_action (
			account_id, instrument_id, natural_key, action_id, action_type, effective_date,
			quantity, proceeds, description, source_raw_record_id, source_run_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (account_id, natural_key) DO UPDATE SET
			instrument_id = EXCLUDED.instrument_id,
			action_id = EXCLUDED.action_id,
			action_type = EXCLUDED.action_type,
			effective_date = EXCLUDED.effective_date,
			quantity = EXCLUDED.quantity,
			proceeds = EXCLUDED.proceeds,
			description = EXCLUDED.description,
			source_raw_record_id = EXCLUDED.source_raw_record_id,
			source_run_id = EXCLUDED.source_run_id,
			updated_at_utc = now()
		RETURNING id`,
		a.AccountID, a.InstrumentID, a.NaturalKey, a.ActionID, a.ActionType, a.EffectiveDate,
		a.Quantity, a.Proceeds, a.Description, a.SourceRawRecordID, a.SourceRunID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert corporate action %s: %w", a.NaturalKey, err)
	}
	return id, nil
}
