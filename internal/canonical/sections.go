package canonical

import (
	"fmt"

	"github.com/aristath/ibkr-flexsync/internal/store"
)

// mapTradeFill maps one Trades row to an event_trade_fill row plus the
// instrument it references. Trades carries the richest instrument metadata
// of any section, so it is also this mapper's primary instrument source.
func mapTradeFill(accountID, runID string, r row) (store.TradeFill, *store.Instrument, error) {
	conid, err := r.requiredString("conid")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	tradeID, err := r.requiredString("tradeID")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	tradeDatetime, err := r.requiredUTCTimestamp("dateTime")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	quantity, err := r.requiredAmount("quantity")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	price, err := r.requiredAmount("tradePrice")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	proceeds, err := r.requiredAmount("proceeds")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	currency, err := r.requiredString("currency")
	if err != nil {
		return store.TradeFill{}, nil, err
	}

	commission, err := r.optionalAmount("ibCommission")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	fees, err := r.optionalAmount("fees")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	fxRate, err := r.optionalFXRate("fxRateToBase")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	closePrice, err := r.optionalAmount("closePrice")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	netCash, err := r.optionalAmount("netCash")
	if err != nil {
		return store.TradeFill{}, nil, err
	}
	netCashInBase, err := r.optionalAmount("netCashInBase")
	if err != nil {
		return store.TradeFill{}, nil, err
	}

	executionID := r.raw("tradeID")
	if exec := r.raw("execID"); exec != "" {
		executionID = exec
	}

	fill := store.TradeFill{
		AccountID:         accountID,
		TradeID:           tradeID,
		ExecutionID:       executionID,
		TradeDatetimeUTC:  tradeDatetime,
		Quantity:          quantity,
		Price:             price,
		Proceeds:          proceeds,
		Commission:        commission.Decimal.Abs(),
		Fees:              fees.Decimal.Abs(),
		TradeCurrency:     currency,
		FXRateToBase:      fxRate,
		ClosePrice:        closePrice,
		NetCash:           netCash,
		NetCashInBase:     netCashInBase,
		TransactionID:     r.raw("transactionID"),
		SourceRawRecordID: r.id,
		SourceRunID:       runID,
	}

	inst := &store.Instrument{
		Conid:         conid,
		Symbol:        r.raw("symbol"),
		Description:   r.raw("description"),
		AssetCategory: r.raw("assetCategory"),
		Currency:      currency,
	}
	return fill, inst, nil
}

// mapCashflow maps one CashTransactions row to an event_cashflow row.
// Correction-vs-no-op semantics are decided by the caller (ApplyBatch),
// which compares against any existing row for the same natural key.
func mapCashflow(accountID, runID string, r row) (store.Cashflow, error) {
	transactionID, err := r.requiredString("transactionID")
	if err != nil {
		return store.Cashflow{}, err
	}
	settleDate, err := r.requiredDate("settleDate")
	if err != nil {
		return store.Cashflow{}, err
	}
	amount, err := r.requiredAmount("amount")
	if err != nil {
		return store.Cashflow{}, err
	}
	currency, err := r.requiredString("currency")
	if err != nil {
		return store.Cashflow{}, err
	}

	return store.Cashflow{
		AccountID:         accountID,
		TransactionID:     transactionID,
		Kind:              classifyCashflowKind(r.raw("type")),
		SettleDate:        settleDate,
		Amount:            amount,
		Currency:          currency,
		Description:       r.raw("description"),
		SourceRawRecordID: r.id,
		SourceRunID:       runID,
	}, nil
}

var cashflowKinds = map[string]string{
	"Dividends":       "dividend",
	"Payment In Lieu Of Dividends": "dividend",
	"Broker Interest Paid":   "interest",
	"Broker Interest Received": "interest",
	"Withholding Tax":  "withholding_tax",
	"Other Fees":       "fee",
	"Commission Adjustments": "fee",
	"Deposits/Withdrawals":   "transfer",
}

// classifyCashflowKind maps the upstream free-text "type" attribute to the
// fixed cashflow kind enum, defaulting to "other" for anything unrecognized
// rather than raising a contract violation — the kind taxonomy is a
// classification convenience, not a required canonical field.
func classifyCashflowKind(raw string) string {
	if kind, ok := cashflowKinds[raw]; ok {
		return kind
	}
	return "other"
}

// mapConversionRate maps one ConversionRates row to an event_fx row. These
// are the fallback source-3 FX candidates (spec §4.6); priority-1 hints
// extracted from Trades.fxRateToBase are applied by the valuation resolver
// directly against event_trade_fill, not routed through this table.
func mapConversionRate(accountID, runID string, r row) (store.FXTransaction, error) {
	fromCurrency, err := r.requiredString("fromCurrency")
	if err != nil {
		return store.FXTransaction{}, err
	}
	toCurrency, err := r.requiredString("toCurrency")
	if err != nil {
		return store.FXTransaction{}, err
	}
	rate, err := r.requiredFXRate("rate")
	if err != nil {
		return store.FXTransaction{}, err
	}
	reportDate, err := r.requiredDate("reportDate")
	if err != nil {
		return store.FXTransaction{}, err
	}

	transactionID := fmt.Sprintf("conversion-rate:%s-%s:%s", fromCurrency, toCurrency, reportDate.Format("2006-01-02"))

	return store.FXTransaction{
		AccountID:         accountID,
		TransactionID:     transactionID,
		TradeDatetimeUTC:  reportDate,
		FromCurrency:      fromCurrency,
		ToCurrency:        toCurrency,
		Quantity:          rate,
		Rate:              rate,
		Proceeds:          rate,
		SourceRawRecordID: r.id,
		SourceRunID:       runID,
	}, nil
}

// mapCorporateAction maps one CorporateActions row to an
// event_corporate_action row. The natural key uses the upstream action id
// when present; otherwise it falls back to a deterministic composite of
// (transaction id, conid, report date, reorg code), per spec §4.5.
func mapCorporateAction(accountID, runID string, r row) (store.CorporateAction, *store.Instrument, error) {
	conid, err := r.requiredString("conid")
	if err != nil {
		return store.CorporateAction{}, nil, err
	}
	actionType, err := r.requiredString("type")
	if err != nil {
		return store.CorporateAction{}, nil, err
	}
	effectiveDate, err := r.requiredDate("reportDate")
	if err != nil {
		return store.CorporateAction{}, nil, err
	}

	quantity, err := r.optionalAmount("quantity")
	if err != nil {
		return store.CorporateAction{}, nil, err
	}
	proceeds, err := r.optionalAmount("proceeds")
	if err != nil {
		return store.CorporateAction{}, nil, err
	}

	actionID := r.raw("actionID")
	naturalKey := actionID
	if naturalKey == "" {
		naturalKey = fmt.Sprintf("fallback:%s:%s:%s:%s",
			r.raw("transactionID"), conid, effectiveDate.Format("2006-01-02"), r.raw("reorgCode"))
	}

	ca := store.CorporateAction{
		AccountID:         accountID,
		NaturalKey:        naturalKey,
		ActionID:          actionID,
		ActionType:        actionType,
		EffectiveDate:     effectiveDate,
		Quantity:          quantity,
		Proceeds:          proceeds,
		Description:       r.raw("description"),
		SourceRawRecordID: r.id,
		SourceRunID:       runID,
	}

	inst := &store.Instrument{
		Conid:         conid,
		Symbol:        r.raw("symbol"),
		AssetCategory: r.raw("assetCategory"),
		Currency:      r.raw("currency"),
	}
	return ca, inst, nil
}

// mapOpenPositionMark maps one OpenPositions row to an open_position_mark
// row, the priority-1 candidate for the EOD mark resolver (spec §4.6).
// markPrice is optional: a missing, empty or sentinel attribute yields a null
// mark, not a contract violation, and the row is still persisted so the
// resolver sees an explicit "absent" and falls through to priority 2/3. A
// markPrice that is present but does not parse is a contract violation.
func mapOpenPositionMark(accountID, runID string, r row) (store.OpenPositionMark, *store.Instrument, error) {
	conid, err := r.requiredString("conid")
	if err != nil {
		return store.OpenPositionMark{}, nil, err
	}
	reportDate, err := r.requiredDate("reportDate")
	if err != nil {
		return store.OpenPositionMark{}, nil, err
	}
	markPrice, err := r.optionalAmount("markPrice")
	if err != nil {
		return store.OpenPositionMark{}, nil, err
	}

	mark := store.OpenPositionMark{
		AccountID:         accountID,
		ReportDate:        reportDate,
		MarkPrice:         markPrice,
		SourceRawRecordID: r.id,
		SourceRunID:       runID,
	}

	inst := &store.Instrument{
		Conid:         conid,
		Symbol:        r.raw("symbol"),
		Description:   r.raw("description"),
		AssetCategory: r.raw("assetCategory"),
		Currency:      r.raw("currency"),
	}
	return mark, inst, nil
}
