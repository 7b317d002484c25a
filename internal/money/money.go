// Package money provides the fixed-decimal value types and shared normalizer
// used throughout the canonical mapper, valuation resolver, and FIFO ledger.
//
// Monetary and quantity values use 24 integer digits + 8 fractional digits;
// FX rates use 10 fractional digits. Both are backed by shopspring/decimal,
// which stores an arbitrary-precision coefficient, so these constants are
// the scales parsed values are rounded to rather than storage constraints.
package money

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountScale is the fractional-digit scale for money and quantity fields.
const AmountScale = 8

// FXScale is the fractional-digit scale for FX rates.
const FXScale = 10

// sentinels are raw-field values that normalize to null per spec §4.5.
var sentinels = map[string]bool{
	"":    true,
	"-":   true,
	"--":  true,
	"N/A": true,
}

// IsSentinel reports whether raw is one of the documented null sentinels.
func IsSentinel(raw string) bool {
	return sentinels[strings.TrimSpace(raw)]
}

// ParseAmount parses a raw decimal field (money or quantity) at AmountScale.
// Thousands-separator commas are stripped before parsing. Sentinels are
// rejected here — callers must check IsSentinel first and apply their own
// required/optional handling, per spec §4.5 ("required fields whose value
// fails normalization raise a contract violation").
func ParseAmount(raw string) (decimal.Decimal, error) {
	return parseDecimal(raw, AmountScale)
}

// ParseFXRate parses a raw FX rate field at FXScale.
func ParseFXRate(raw string) (decimal.Decimal, error) {
	return parseDecimal(raw, FXScale)
}

func parseDecimal(raw string, scale int32) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty decimal value")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal value %q: %w", raw, err)
	}
	return d.Round(scale), nil
}

// dateLayouts are the accepted literal date formats, tried in order, per spec §4.5.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"01/02/2006",
	"01/02/06",
	"02-Jan-06",
}

// ParseDate parses a raw date field using the documented accepted formats.
func ParseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q: %w", raw, lastErr)
}

// utcZoneLayouts are the accepted timestamp formats that carry an explicit
// UTC marker. IBKR's bare "YYYYMMDD;HHMMSS" dateTime attribute carries no
// zone at all and is deliberately NOT in this list: it is naive and must be
// rejected per spec §4.5, even though it is the most common Flex format.
var utcZoneLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"20060102;150405 UTC",
}

// ParseUTCTimestamp parses a raw timestamp field that must resolve to an
// explicit UTC instant. Naive local strings (no zone marker) are rejected
// per spec §4.5; only formats carrying an explicit offset or a documented
// "UTC" suffix are accepted.
func ParseUTCTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty timestamp value")
	}
	var lastErr error
	for _, layout := range utcZoneLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q does not resolve to an explicit UTC instant: %w", raw, lastErr)
}

// RoundHalfEven rounds d to scale fractional digits using banker's rounding
// (round-half-to-even), as required for derived FX rates (spec §4.6 priority 2).
func RoundHalfEven(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.RoundBank(scale)
}

// ParseInt parses a raw integer field (e.g. a transaction or trade id used as
// a numeric tie-break), rejecting sentinels and non-numeric input.
func ParseInt(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("empty integer value")
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q: %w", raw, err)
	}
	return v, nil
}
