// Package preflight validates that a downloaded Flex statement carries the
// sections ingestion depends on, before any row is persisted (spec §4.3,
// C4). It parses only enough XML to enumerate FlexStatement's direct
// section children — it never inspects row content.
package preflight

import (
	"encoding/xml"
	"fmt"
	"sort"
)

// hardRequired sections must be present in every statement; their absence
// fails the run before any persistence happens.
var hardRequired = map[string]bool{
	"Trades":              true,
	"OpenPositions":        true,
	"CashTransactions":     true,
	"CorporateActions":     true,
	"ConversionRates":      true,
	"SecuritiesInfo":       true,
	"AccountInformation":   true,
}

// reconciliationRequired sections are only enforced when reconciliation
// publishing is enabled.
var reconciliationRequired = map[string]bool{
	"MTMPerformanceSummaryInBase":  true,
	"FIFOPerformanceSummaryInBase": true,
}

// knownFutureProof sections are persisted raw but never block ingestion,
// even though they are not yet mapped to canonical events.
var knownFutureProof = map[string]bool{
	"InterestAccruals":          true,
	"ChangeInDividendAccruals":  true,
	"OpenDividendAccruals":      true,
	"ChangeInNAV":               true,
	"StmtFunds":                 true,
	"UnbundledCommissionDetails": true,
}

// MissingSectionError reports the exact set of required sections absent
// from a statement (spec §4.1's MISSING_REQUIRED_SECTION code).
type MissingSectionError struct {
	Missing []string
}

func (e *MissingSectionError) Error() string {
	return fmt.Sprintf("missing required sections: %v", e.Missing)
}

// rawFlexStatement enumerates FlexStatement's direct children generically:
// each child element becomes one entry, regardless of whether this package
// knows its name, satisfying "extraction is permissive" for preflight's own
// parse (spec §4.3/§4.4).
type rawFlexStatement struct {
	XMLName  xml.Name   `xml:"FlexStatement"`
	Sections []rawMixed `xml:",any"`
}

type rawMixed struct {
	XMLName xml.Name
}

type rawFlexQueryResponse struct {
	XMLName    xml.Name           `xml:"FlexQueryResponse"`
	Statements []rawFlexStatement `xml:"FlexStatements>FlexStatement"`
}

// Result is the set of section names observed across every FlexStatement in
// the document, as checked by Validate. Raw extraction (C5) parses the
// document on its own and does not consume it.
type Result struct {
	Sections map[string]bool
}

// Validate parses xmlBody just enough to enumerate section names and checks
// them against the hard-required set (and, when reconciliationEnabled, the
// reconciliation-required set too). Returns the observed section set.
func Validate(xmlBody []byte, reconciliationEnabled bool) (*Result, error) {
	var doc rawFlexQueryResponse
	if err := xml.Unmarshal(xmlBody, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse statement for section preflight: %w", err)
	}

	sections := map[string]bool{}
	for _, stmt := range doc.Statements {
		for _, s := range stmt.Sections {
			sections[s.XMLName.Local] = true
		}
	}

	var missing []string
	for name := range hardRequired {
		if !sections[name] {
			missing = append(missing, name)
		}
	}
	if reconciliationEnabled {
		for name := range reconciliationRequired {
			if !sections[name] {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingSectionError{Missing: missing}
	}

	return &Result{Sections: sections}, nil
}

// IsKnownFutureProof reports whether name is one of the documented
// future-proof sections that are persisted raw but never block ingestion.
func IsKnownFutureProof(name string) bool {
	return knownFutureProof[name]
}
