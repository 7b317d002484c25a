// Package rawstore extracts generic raw rows from a Flex XML statement (C5,
// spec §4.4). It has no awareness of canonical semantics: every element
// under FlexStatement/<section>/* becomes one raw row keyed by
// {section_name = parent tag, source_row_ref = deterministic handle,
// attributes = element attributes verbatim}. This is the provenance floor
// every downstream component reads from instead of re-parsing XML.
package rawstore

import (
	"encoding/xml"
	"fmt"

	"github.com/aristath/ibkr-flexsync/internal/store"
)

// element is a generic XML node: its tag name, attributes, and children,
// recursively. Decoding into this shape (rather than per-section typed
// structs) is what makes extraction permissive — unknown sections are
// still recorded, per spec §4.4.
type element struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Children []element `xml:",any"`
}

type flexStatement struct {
	XMLName   xml.Name  `xml:"FlexStatement"`
	AccountID string    `xml:"accountId,attr"`
	Children  []element `xml:",any"`
}

type flexQueryResponse struct {
	XMLName    xml.Name        `xml:"FlexQueryResponse"`
	Statements []flexStatement `xml:"FlexStatements>FlexStatement"`
}

// Extract parses a Flex XML statement and returns one store.RawRecord per
// element found under each section container. source_row_ref is built from
// the section name and the row's position within it, which is stable across
// re-extraction of the same payload (raw storage is content-addressed, so
// the same payload always yields the same ref sequence).
func Extract(xmlBody []byte) ([]store.RawRecord, error) {
	var doc flexQueryResponse
	if err := xml.Unmarshal(xmlBody, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse statement for raw extraction: %w", err)
	}

	var rows []store.RawRecord
	for _, stmt := range doc.Statements {
		for _, section := range stmt.Children {
			sectionName := section.XMLName.Local
			for i, row := range section.Children {
				rows = append(rows, store.RawRecord{
					Section:      sectionName,
					SourceRowRef: fmt.Sprintf("%s[%d]", sectionName, i),
					Attributes:   attrsToMap(row.Attrs),
				})
			}
		}
	}
	return rows, nil
}

func attrsToMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}
