package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// RawRecord is a row of raw_record: one extracted XML element, attributes
// preserved verbatim as a JSON object (spec §4.4).
type RawRecord struct {
	ID            int64
	RawArtifactID string
	Section       string
	SourceRowRef  string
	Attributes    map[string]string
}

// InsertResult summarizes a batch raw-row insert for the persist stage's
// diagnostics payload.
type InsertResult struct {
	Inserted     int
	Deduplicated int
	Records      []*RawRecord
}

// InsertRawRecords inserts one raw row per extracted element, keyed by
// (artifact, section, source_row_ref). Rows already present for the artifact
// (re-ingestion of an identical payload) are skipped and counted as
// deduplicated rather than erroring, since raw storage is append-only and
// idempotent per artifact.
func (db *DB) InsertRawRecords(ctx context.Context, artifactID string, rows []RawRecord) (*InsertResult, error) {
	result := &InsertResult{}

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			r := &rows[i]
			attrs, err := json.Marshal(r.Attributes)
			if err != nil {
				return fmt.Errorf("failed to marshal attributes for %s/%s: %w", r.Section, r.SourceRowRef, err)
			}

			var id int64
			err = tx.QueryRowContext(ctx, `
				INSERT INTO raw_record (raw_artifact_id, section, source_row_ref, attributes)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (raw_artifact_id, section, source_row_ref) DO NOTHING
				RETURNING id`,
				artifactID, r.Section, r.SourceRowRef, attrs,
			).Scan(&id)

			if err == sql.ErrNoRows {
				result.Deduplicated++
				existing, lookupErr := db.findRawRecord(ctx, tx, artifactID, r.Section, r.SourceRowRef)
				if lookupErr != nil {
					return lookupErr
				}
				result.Records = append(result.Records, existing)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to insert raw record %s/%s: %w", r.Section, r.SourceRowRef, err)
			}

			r.ID = id
			r.RawArtifactID = artifactID
			result.Inserted++
			result.Records = append(result.Records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *DB) findRawRecord(ctx context.Context, tx *sql.Tx, artifactID, section, sourceRowRef string) (*RawRecord, error) {
	r := &RawRecord{RawArtifactID: artifactID, Section: section, SourceRowRef: sourceRowRef}
	var attrs []byte
	err := tx.QueryRowContext(ctx, `
		SELECT id, attributes FROM raw_record
		WHERE raw_artifact_id = $1 AND section = $2 AND source_row_ref = $3`,
		artifactID, section, sourceRowRef,
	).Scan(&r.ID, &attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to look up raw record %s/%s: %w", section, sourceRowRef, err)
	}
	if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes for raw record %d: %w", r.ID, err)
	}
	return r, nil
}

// RawRecordsBySection loads every raw row of the given section for an
// artifact, the input to canonical mapping (C6).
func (db *DB) RawRecordsBySection(ctx context.Context, artifactID, section string) ([]*RawRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, section, source_row_ref, attributes
		FROM raw_record WHERE raw_artifact_id = $1 AND section = $2
		ORDER BY id`, artifactID, section,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw records for section %s: %w", section, err)
	}
	defer rows.Close()

	var out []*RawRecord
	for rows.Next() {
		r := &RawRecord{RawArtifactID: artifactID}
		var attrs []byte
		if err := rows.Scan(&r.ID, &r.Section, &r.SourceRowRef, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", err)
		}
		if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes for raw record %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
