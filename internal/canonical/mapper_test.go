package canonical

import (
	"testing"

	"github.com/aristath/ibkr-flexsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradeRow(overrides map[string]string) *store.RawRecord {
	attrs := map[string]string{
		"conid":        "265598",
		"tradeID":      "100",
		"dateTime":     "2026-02-10T14:30:00Z",
		"quantity":     "10",
		"tradePrice":   "150.25",
		"proceeds":     "-1502.50",
		"currency":     "USD",
		"ibCommission": "-1.00",
		"symbol":       "AAPL",
		"description":  "APPLE INC",
		"assetCategory": "STK",
	}
	for k, v := range overrides {
		attrs[k] = v
	}
	return &store.RawRecord{ID: 1, Section: "Trades", SourceRowRef: "Trades[0]", Attributes: attrs}
}

func TestBuildCanonicalBatch_RoutesTradesToFillAndInstrument(t *testing.T) {
	batch, err := BuildCanonicalBatch("U1234567", "run-1", []*store.RawRecord{tradeRow(nil)})
	require.NoError(t, err)
	require.Len(t, batch.TradeFills, 1)
	require.Len(t, batch.Instruments, 1)

	assert.Equal(t, "100", batch.TradeFills[0].TradeID)
	assert.Equal(t, "265598", batch.Instruments[0].Conid)
	assert.Equal(t, "AAPL", batch.Instruments[0].Symbol)
}

func TestBuildCanonicalBatch_InvalidDecimalRaisesContractViolation(t *testing.T) {
	_, err := BuildCanonicalBatch("U1234567", "run-1", []*store.RawRecord{tradeRow(map[string]string{"tradePrice": "not-a-number"})})
	require.Error(t, err)

	var violationErr *MappingContractViolationError
	require.ErrorAs(t, err, &violationErr)
	assert.Equal(t, "tradePrice", violationErr.Field)
	assert.Equal(t, "Trades", violationErr.Section)
}

func TestBuildCanonicalBatch_SentinelRequiredFieldRaisesContractViolation(t *testing.T) {
	_, err := BuildCanonicalBatch("U1234567", "run-1", []*store.RawRecord{tradeRow(map[string]string{"currency": "-"})})
	require.Error(t, err)

	var violationErr *MappingContractViolationError
	require.ErrorAs(t, err, &violationErr)
	assert.Equal(t, "currency", violationErr.Field)
}

func TestBuildCanonicalBatch_UnmappedSectionIsIgnored(t *testing.T) {
	row := &store.RawRecord{ID: 2, Section: "StmtFunds", SourceRowRef: "StmtFunds[0]", Attributes: map[string]string{"foo": "bar"}}
	batch, err := BuildCanonicalBatch("U1234567", "run-1", []*store.RawRecord{row})
	require.NoError(t, err)
	assert.Empty(t, batch.TradeFills)
	assert.Empty(t, batch.Cashflows)
	assert.Empty(t, batch.Instruments)
}

func TestBuildCanonicalBatch_RoutesCashTransactionToCashflow(t *testing.T) {
	row := &store.RawRecord{ID: 3, Section: "CashTransactions", SourceRowRef: "CashTransactions[0]", Attributes: map[string]string{
		"transactionID": "5001",
		"settleDate":    "2026-02-10",
		"amount":        "12.34",
		"currency":      "USD",
		"type":          "Dividends",
		"description":   "AAPL DIVIDEND",
	}}
	batch, err := BuildCanonicalBatch("U1234567", "run-1", []*store.RawRecord{row})
	require.NoError(t, err)
	require.Len(t, batch.Cashflows, 1)
	assert.Equal(t, "dividend", batch.Cashflows[0].Kind)
}

func TestClassifyCashflowKind_UnknownDefaultsToOther(t *testing.T) {
	assert.Equal(t, "other", classifyCashflowKind("Some Unmapped Type"))
	assert.Equal(t, "withholding_tax", classifyCashflowKind("Withholding Tax"))
}

func TestBuildCanonicalBatch_RoutesOpenPositionsToMarkAndInstrument(t *testing.T) {
	row := &store.RawRecord{ID: 4, Section: "OpenPositions", SourceRowRef: "OpenPositions[0]", Attributes: map[string]string{
		"conid":      "265598",
		"reportDate": "2026-02-10",
		"markPrice":  "151.10",
		"symbol":     "AAPL",
	}}
	batch, err := BuildCanonicalBatch("U1234567", "run-1", []*store.RawRecord{row})
	require.NoError(t, err)
	require.Len(t, batch.OpenPositionMarks, 1)
	require.Len(t, batch.Instruments, 1)
	assert.True(t, batch.OpenPositionMarks[0].MarkPrice.Valid)
	assert.Equal(t, "265598", batch.Instruments[0].Conid)
}

func TestBuildCanonicalBatch_OpenPositionsMissingMarkPriceIsNullNotViolation(t *testing.T) {
	row := &store.RawRecord{ID: 5, Section: "OpenPositions", SourceRowRef: "OpenPositions[0]", Attributes: map[string]string{
		"conid":      "265598",
		"reportDate": "2026-02-10",
		"markPrice":  "-",
	}}
	batch, err := BuildCanonicalBatch("U1234567", "run-1", []*store.RawRecord{row})
	require.NoError(t, err)
	require.Len(t, batch.OpenPositionMarks, 1)
	assert.False(t, batch.OpenPositionMarks[0].MarkPrice.Valid)
}
