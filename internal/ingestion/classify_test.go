package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/ibkr-flexsync/internal/canonical"
	"github.com/aristath/ibkr-flexsync/internal/flexclient"
	"github.com/aristath/ibkr-flexsync/internal/preflight"
	"github.com/stretchr/testify/assert"
)

func TestClassify_TokenExpired(t *testing.T) {
	err := &flexclient.TokenError{UpstreamError: &flexclient.UpstreamError{
		Phase: flexclient.PhaseRequest, Code: flexclient.ErrTokenExpired, Message: "expired",
	}}
	code, msg := classify(err)
	assert.Equal(t, CodeTokenExpired, code)
	assert.Contains(t, msg, "expired")
}

func TestClassify_TokenInvalid(t *testing.T) {
	err := &flexclient.TokenError{UpstreamError: &flexclient.UpstreamError{
		Phase: flexclient.PhaseRequest, Code: flexclient.ErrTokenInvalid, Message: "invalid",
	}}
	code, _ := classify(err)
	assert.Equal(t, CodeTokenInvalid, code)
}

func TestClassify_RequestPhaseUpstreamError(t *testing.T) {
	err := &flexclient.UpstreamError{Phase: flexclient.PhaseRequest, Code: "1018", Message: "bad query"}
	code, _ := classify(err)
	assert.Equal(t, CodeRequestError, code)
}

func TestClassify_StatementPhaseUpstreamError(t *testing.T) {
	err := &flexclient.UpstreamError{Phase: flexclient.PhaseStatement, Code: "9999", Message: "unknown"}
	code, _ := classify(err)
	assert.Equal(t, CodeStatementError, code)
}

func TestClassify_PollTimeout(t *testing.T) {
	err := &flexclient.PollTimeoutError{Attempts: 7, LastCode: flexclient.ErrStatementNotReady}
	code, _ := classify(err)
	assert.Equal(t, CodePollTimeout, code)
}

func TestClassify_TransportError(t *testing.T) {
	err := &flexclient.TransportError{Phase: flexclient.PhaseRequest, Err: errors.New("dial tcp: refused")}
	code, _ := classify(err)
	assert.Equal(t, CodeTransportError, code)
}

func TestClassify_TimeoutErrorIsTransport(t *testing.T) {
	err := &flexclient.TimeoutError{Phase: flexclient.PhaseStatement, Err: errors.New("deadline exceeded")}
	code, _ := classify(err)
	assert.Equal(t, CodeTransportError, code)
}

func TestClassify_MissingRequiredSection(t *testing.T) {
	err := &preflight.MissingSectionError{Missing: []string{"Trades", "OpenPositions"}}
	code, msg := classify(err)
	assert.Equal(t, CodeMissingRequiredSection, code)
	assert.Contains(t, msg, "Trades")
}

func TestClassify_MappingContractViolation(t *testing.T) {
	err := &canonical.MappingContractViolationError{Section: "Trades", SourceRowRef: "Trades[0]", Field: "quantity", RawValue: "abc"}
	code, _ := classify(err)
	assert.Equal(t, CodeMappingContractViolation, code)
}

func TestClassify_ContextCancelled(t *testing.T) {
	code, _ := classify(context.Canceled)
	assert.Equal(t, CodeCancelled, code)
}

func TestClassify_UnclassifiedIsInternal(t *testing.T) {
	code, _ := classify(errors.New("something unexpected"))
	assert.Equal(t, CodeInternal, code)
}
