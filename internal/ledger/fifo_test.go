package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameDate(t time.Time) time.Time { return t }

func TestMatchFIFO_SimpleBuyThenFullSell(t *testing.T) {
	fills := []Fill{
		{TradeID: "1", RawRecordID: 1, DateTimeUTC: day(1), Quantity: decimal.NewFromInt(100), Price: decimal.RequireFromString("10.00"), Fees: decimal.RequireFromString("1.00")},
		{TradeID: "2", RawRecordID: 2, DateTimeUTC: day(2), Quantity: decimal.NewFromInt(-100), Price: decimal.RequireFromString("12.00"), Fees: decimal.RequireFromString("1.00")},
	}
	res, err := MatchFIFO(fills, sameDate)
	require.NoError(t, err)
	require.Len(t, res.Lots, 1)
	assert.True(t, res.Lots[0].Closed)
	assert.True(t, res.Lots[0].RemainingQuantity.IsZero())

	require.Len(t, res.RealizedEvents, 1)
	// (12-10)*100 - 1.00 (opening fee of the 100 closed units) - 1.00 (closing
	// fee, fully allocated since totalAbs==closedAbs) = 198.00
	assert.True(t, res.RealizedEvents[0].RealizedPnL.Equal(decimal.RequireFromString("198.00")), "got %s", res.RealizedEvents[0].RealizedPnL)
}

func TestMatchFIFO_PartialSellLeavesRemainingLot(t *testing.T) {
	fills := []Fill{
		{TradeID: "1", RawRecordID: 1, DateTimeUTC: day(1), Quantity: decimal.NewFromInt(100), Price: decimal.RequireFromString("10.00")},
		{TradeID: "2", RawRecordID: 2, DateTimeUTC: day(2), Quantity: decimal.NewFromInt(-40), Price: decimal.RequireFromString("11.00")},
	}
	res, err := MatchFIFO(fills, sameDate)
	require.NoError(t, err)
	require.Len(t, res.Lots, 1)
	assert.False(t, res.Lots[0].Closed)
	assert.True(t, res.Lots[0].RemainingQuantity.Equal(decimal.NewFromInt(60)))
	require.Len(t, res.RealizedEvents, 1)
	assert.True(t, res.RealizedEvents[0].ClosedQuantity.Equal(decimal.NewFromInt(40)))
}

func TestMatchFIFO_OrderedByDatetimeRegardlessOfInputOrder(t *testing.T) {
	later := []Fill{
		{TradeID: "2", RawRecordID: 2, DateTimeUTC: day(2), Quantity: decimal.NewFromInt(-50), Price: decimal.RequireFromString("11.00")},
		{TradeID: "1", RawRecordID: 1, DateTimeUTC: day(1), Quantity: decimal.NewFromInt(100), Price: decimal.RequireFromString("10.00")},
	}
	res, err := MatchFIFO(later, sameDate)
	require.NoError(t, err)
	require.Len(t, res.Lots, 1)
	assert.Equal(t, "1", res.Lots[0].OpenedTradeID, "buy must be processed before the later sell regardless of slice order")
}

func TestMatchFIFO_FeesSplitBetweenClosingAndOpeningPortions(t *testing.T) {
	fills := []Fill{
		{TradeID: "1", RawRecordID: 1, DateTimeUTC: day(1), Quantity: decimal.NewFromInt(50), Price: decimal.RequireFromString("10.00")},
		// Sells 80: 50 closes the existing long, 30 opens a new short. Fee of 8.00 splits 50/30.
		{TradeID: "2", RawRecordID: 2, DateTimeUTC: day(2), Quantity: decimal.NewFromInt(-80), Price: decimal.RequireFromString("11.00"), Fees: decimal.RequireFromString("8.00")},
	}
	res, err := MatchFIFO(fills, sameDate)
	require.NoError(t, err)
	require.Len(t, res.Lots, 2)
	short := res.Lots[1]
	assert.True(t, short.RemainingQuantity.Equal(decimal.NewFromInt(-30)))
	// opening share = 8.00 * 30/80 = 3.00, per unit = 3.00/30 = 0.10
	assert.True(t, short.OpenFeePerUnit.Equal(decimal.RequireFromString("0.10000000")), "got %s", short.OpenFeePerUnit)

	require.Len(t, res.RealizedEvents, 1)
	// gross (11-10)*50 = 50.00, closing fee share = 8.00*50/80 = 5.00 -> realized 45.00
	assert.True(t, res.RealizedEvents[0].RealizedPnL.Equal(decimal.RequireFromString("45.00000000")), "got %s", res.RealizedEvents[0].RealizedPnL)
}

func TestMatchFIFO_PartialCloseRealizesOpeningFeeShareOnClosedUnits(t *testing.T) {
	fills := []Fill{
		{TradeID: "1", RawRecordID: 1, DateTimeUTC: day(1), Quantity: decimal.NewFromInt(100), Price: decimal.RequireFromString("50.00"), Fees: decimal.RequireFromString("1.00")},
		{TradeID: "2", RawRecordID: 2, DateTimeUTC: day(2), Quantity: decimal.NewFromInt(-40), Price: decimal.RequireFromString("55.00"), Fees: decimal.RequireFromString("0.60")},
	}
	res, err := MatchFIFO(fills, sameDate)
	require.NoError(t, err)
	require.Len(t, res.Lots, 1)
	assert.False(t, res.Lots[0].Closed)
	assert.True(t, res.Lots[0].RemainingQuantity.Equal(decimal.NewFromInt(60)))

	require.Len(t, res.RealizedEvents, 1)
	// gross (55-50)*40 = 200.00, closing fee share 0.60*40/40 = 0.60, opening fee
	// share on the closed 40 units 1.00*(40/100) = 0.40 -> realized 199.00
	assert.True(t, res.RealizedEvents[0].RealizedPnL.Equal(decimal.RequireFromString("199.00")), "got %s", res.RealizedEvents[0].RealizedPnL)
}

func TestMatchFIFO_ZeroQuantityFillIsSkipped(t *testing.T) {
	fills := []Fill{
		{TradeID: "1", RawRecordID: 1, DateTimeUTC: day(1), Quantity: decimal.Zero, Price: decimal.RequireFromString("10.00")},
	}
	res, err := MatchFIFO(fills, sameDate)
	require.NoError(t, err)
	assert.Empty(t, res.Lots)
	assert.Empty(t, res.RealizedEvents)
}

func day(n int) time.Time {
	return time.Date(2026, 2, n, 10, 0, 0, 0, time.UTC)
}
