package store

import "errors"

// ErrRunAlreadyActive is returned by StartRun when an active run already
// exists for the account, enforcing the single-active-run lock (spec §4.1).
// It maps to the RUN_ALREADY_ACTIVE API error and HTTP 409.
var ErrRunAlreadyActive = errors.New("an active ingestion run already exists for this account")

// ErrNotFound is returned by single-row lookups that find no matching row.
var ErrNotFound = errors.New("not found")
