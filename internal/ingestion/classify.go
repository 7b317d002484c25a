package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/ibkr-flexsync/internal/canonical"
	"github.com/aristath/ibkr-flexsync/internal/flexclient"
	"github.com/aristath/ibkr-flexsync/internal/preflight"
)

// classify maps a failure's typed origin to a deterministic terminal code
// and message, the single place the orchestrator's error taxonomy is
// decided (spec §4.1, §7).
func classify(err error) (Code, string) {
	if err == nil {
		return "", ""
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return CodeCancelled, err.Error()
	}

	var tokenErr *flexclient.TokenError
	if errors.As(err, &tokenErr) {
		if tokenErr.Code == flexclient.ErrTokenExpired {
			return CodeTokenExpired, tokenErr.Error()
		}
		return CodeTokenInvalid, tokenErr.Error()
	}

	var pollTimeout *flexclient.PollTimeoutError
	if errors.As(err, &pollTimeout) {
		return CodePollTimeout, pollTimeout.Error()
	}

	var transportErr *flexclient.TransportError
	if errors.As(err, &transportErr) {
		return CodeTransportError, transportErr.Error()
	}
	var timeoutErr *flexclient.TimeoutError
	if errors.As(err, &timeoutErr) {
		return CodeTransportError, timeoutErr.Error()
	}

	var upstreamErr *flexclient.UpstreamError
	if errors.As(err, &upstreamErr) {
		if upstreamErr.Phase == flexclient.PhaseRequest {
			return CodeRequestError, upstreamErr.Error()
		}
		return CodeStatementError, upstreamErr.Error()
	}

	var missingSection *preflight.MissingSectionError
	if errors.As(err, &missingSection) {
		return CodeMissingRequiredSection, missingSection.Error()
	}

	var violation *canonical.MappingContractViolationError
	if errors.As(err, &violation) {
		return CodeMappingContractViolation, violation.Error()
	}

	return CodeInternal, fmt.Sprintf("unclassified ingestion failure: %v", err)
}
