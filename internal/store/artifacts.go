package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Artifact is a row of raw_artifact: an immutable, content-addressed copy of
// a downloaded Flex statement payload (spec §4.3).
type Artifact struct {
	ID            string
	AccountID     string
	SHA256        string
	ByteSize      int64
	FirstRunID    string
	ReceivedAtUTC time.Time
	Deduped       bool // true if this call found an existing artifact rather than inserting one
}

// UpsertArtifact stores payload content-addressed by its SHA-256 digest. If
// an artifact with the same (account, digest) already exists, it is returned
// unchanged with Deduped set — raw storage is immutable (spec §4.3).
func (db *DB) UpsertArtifact(ctx context.Context, accountID string, runID string, payload []byte) (*Artifact, error) {
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	existing, err := db.findArtifactByDigest(ctx, accountID, digest)
	if err == nil {
		existing.Deduped = true
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	art := &Artifact{
		AccountID:  accountID,
		SHA256:     digest,
		ByteSize:   int64(len(payload)),
		FirstRunID: runID,
	}
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO raw_artifact (account_id, sha256, byte_size, first_run_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, received_at_utc`,
		accountID, digest, art.ByteSize, runID, payload,
	)
	if err := row.Scan(&art.ID, &art.ReceivedAtUTC); err != nil {
		return nil, fmt.Errorf("failed to insert raw artifact: %w", err)
	}
	return art, nil
}

func (db *DB) findArtifactByDigest(ctx context.Context, accountID, digest string) (*Artifact, error) {
	art := &Artifact{AccountID: accountID, SHA256: digest}
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, byte_size, first_run_id, received_at_utc
		FROM raw_artifact WHERE account_id = $1 AND sha256 = $2`,
		accountID, digest,
	).Scan(&art.ID, &art.ByteSize, &art.FirstRunID, &art.ReceivedAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up raw artifact: %w", err)
	}
	return art, nil
}

// GetArtifactPayload loads the raw bytes stored for an artifact. Reprocess
// (C10) does not use it: it reloads the extracted raw records instead.
func (db *DB) GetArtifactPayload(ctx context.Context, artifactID string) ([]byte, error) {
	var payload []byte
	err := db.conn.QueryRowContext(ctx, `SELECT payload FROM raw_artifact WHERE id = $1`, artifactID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact payload %s: %w", artifactID, err)
	}
	return payload, nil
}

// ListArtifactIDs returns every raw artifact id stored for accountID, oldest
// first, the input to the reprocess orchestrator's full-replay mode
// (spec §4.10).
func (db *DB) ListArtifactIDs(ctx context.Context, accountID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id FROM raw_artifact WHERE account_id = $1 ORDER BY received_at_utc`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan artifact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
