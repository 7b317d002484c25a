package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount_ThousandsSeparator(t *testing.T) {
	got, err := ParseAmount("1,234.56")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("1234.56000000")), "got %s", got)
}

func TestParseAmount_InvalidRaisesError(t *testing.T) {
	_, err := ParseAmount("not-a-number")
	assert.Error(t, err)
}

func TestIsSentinel(t *testing.T) {
	for _, raw := range []string{"", "-", "--", "N/A"} {
		assert.True(t, IsSentinel(raw), "expected %q to be a sentinel", raw)
	}
	assert.False(t, IsSentinel("0"))
	assert.False(t, IsSentinel("1.23"))
}

func TestParseDate_AcceptedFormats(t *testing.T) {
	tests := []string{"2026-02-10", "2026/02/10", "20260210", "02/10/2026", "02/10/26", "10-Feb-26"}
	for _, raw := range tests {
		got, err := ParseDate(raw)
		require.NoError(t, err, "format %q", raw)
		assert.Equal(t, 2026, got.Year())
		assert.Equal(t, 2, int(got.Month()))
		assert.Equal(t, 10, got.Day())
	}
}

func TestRoundHalfEven(t *testing.T) {
	// 3.60000000005 half-even to 10 fractional digits rounds down.
	got := RoundHalfEven(decimal.RequireFromString("3.60000000005"), FXScale)
	assert.True(t, got.Equal(decimal.RequireFromString("3.6000000000")), "got %s", got)
}

func TestParseUTCTimestamp_RejectsNaive(t *testing.T) {
	_, err := ParseUTCTimestamp("2026-02-10 14:30:00")
	assert.Error(t, err, "naive local strings without a zone marker must be rejected")

	_, err = ParseUTCTimestamp("not-a-timestamp")
	assert.Error(t, err)
}

func TestParseUTCTimestamp_AcceptsExplicitZone(t *testing.T) {
	got, err := ParseUTCTimestamp("2026-02-10T14:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.UTC, got.Location())

	got, err = ParseUTCTimestamp("20260210;143000 UTC")
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())
}
