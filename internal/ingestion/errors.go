package ingestion

import "errors"

// Code is one of the deterministic terminal error codes a run is labeled
// with on failure (spec §4.1). Resolution (valuation/FX) gaps never fail a
// run; ledger invariant violations and any other unclassified failure map
// to CodeInternal.
type Code string

const (
	CodeTokenExpired              Code = "INGESTION_TOKEN_EXPIRED_ERROR"
	CodeTokenInvalid              Code = "INGESTION_TOKEN_INVALID_ERROR"
	CodeRequestError              Code = "INGESTION_REQUEST_ERROR"
	CodeStatementError            Code = "INGESTION_STATEMENT_ERROR"
	CodePollTimeout               Code = "INGESTION_POLL_TIMEOUT"
	CodeTransportError            Code = "INGESTION_TRANSPORT_ERROR"
	CodeMissingRequiredSection    Code = "MISSING_REQUIRED_SECTION"
	CodeMappingContractViolation  Code = "CANONICAL_MAPPING_CONTRACT_VIOLATION"
	CodeCancelled                 Code = "INGESTION_CANCELLED"
	CodeInternal                  Code = "INGESTION_INTERNAL_ERROR"
)

// ErrCancelled marks a cancelled run; classify maps it, like
// context.Canceled, to CodeCancelled (spec §5). The flexclient retry wait
// itself returns the context's own error.
var ErrCancelled = errors.New("ingestion cancelled during retry wait")
