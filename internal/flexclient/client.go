// Package flexclient is the Flex transport adapter (C3): it fetches Flex XML
// bytes and never parses business content (spec §4.2). Section preflight and
// raw extraction are the responsibility of internal/preflight and
// internal/rawstore.
package flexclient

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	sendRequestURL  = "https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService/SendRequest"
	getStatementURL = "https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService/GetStatement"
	userAgent       = "Java"
)

// PollAttempt describes one poll iteration, used by the ingestion
// orchestrator to append per-attempt diagnostics timeline events.
type PollAttempt struct {
	Attempt           int
	ErrorCode         ErrorCode
	ErrorMessage      string
	RetryAfterSeconds float64
}

// Client performs the Flex Web Service SendRequest/GetStatement protocol
// over a single pooled, connection-reusing HTTP client with an explicit
// lifecycle (spec §4.2 "Adapter has explicit open/close lifecycle").
type Client struct {
	httpClient *http.Client
	retry      RetryConfig
	log        zerolog.Logger

	// sendURL/getURL default to the real Flex Web Service endpoints;
	// overridable through OverrideEndpoints so tests can point the client at
	// an httptest server instead of the real upstream.
	sendURL string
	getURL  string

	// onPollAttempt, when set, is invoked after every poll attempt
	// (including the terminal one) so the caller can record diagnostics
	// without this package depending on internal/diagnostics.
	onPollAttempt func(PollAttempt)
}

// New constructs a Client with a pooled transport and the given retry
// tuning. timeout bounds each individual HTTP round trip.
func New(retry RetryConfig, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   retry,
		log:     log.With().Str("component", "flexclient").Logger(),
		sendURL: sendRequestURL,
		getURL:  getStatementURL,
	}
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// OnPollAttempt registers a callback invoked after each poll attempt.
func (c *Client) OnPollAttempt(fn func(PollAttempt)) {
	c.onPollAttempt = fn
}

// OverrideEndpoints points the client at test doubles instead of the real
// Flex Web Service, for integration-style tests in other packages that
// exercise the full two-phase protocol over an httptest server.
func (c *Client) OverrideEndpoints(sendURL, getURL string) {
	c.sendURL = sendURL
	c.getURL = getURL
}

// sendStatementResponse is the XML response shape shared by both
// SendRequest and GetStatement when they report a status rather than
// returning statement data.
type sendStatementResponse struct {
	XMLName       xml.Name `xml:"FlexStatementResponse"`
	Status        string   `xml:"Status"`
	ReferenceCode string   `xml:"ReferenceCode"`
	URL           string   `xml:"Url"`
	ErrorCode     string   `xml:"ErrorCode"`
	ErrorMessage  string   `xml:"ErrorMessage"`
}

// SendRequest executes the request phase: submit token + query id and
// return the reference code used to poll for the statement.
func (c *Client) SendRequest(ctx context.Context, token, queryID string) (string, error) {
	reqURL := fmt.Sprintf("%s?t=%s&q=%s&v=3", c.sendURL, token, queryID)

	body, err := c.get(ctx, reqURL, PhaseRequest)
	if err != nil {
		return "", err
	}

	var resp sendStatementResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return "", &UpstreamError{Phase: PhaseRequest, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.Status != "Success" {
		code := ErrorCode(resp.ErrorCode)
		upstream := &UpstreamError{Phase: PhaseRequest, Code: code, Message: resp.ErrorMessage}
		if IsTokenError(code) {
			return "", &TokenError{UpstreamError: upstream}
		}
		return "", upstream
	}

	return resp.ReferenceCode, nil
}

// GetStatement polls for the statement until it is ready, retrying on
// retryable-in-poll codes with exponential-backoff-with-jitter (spec §4.2).
// It applies RetryConfig.InitialWait before the first poll attempt.
func (c *Client) GetStatement(ctx context.Context, token, referenceCode string) ([]byte, error) {
	if c.retry.InitialWait > 0 {
		if err := sleep(ctx, c.retry.InitialWait); err != nil {
			return nil, err
		}
	}

	reqURL := fmt.Sprintf("%s?t=%s&q=%s&v=3", c.getURL, token, referenceCode)

	var lastCode ErrorCode
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		body, err := c.get(ctx, reqURL, PhaseStatement)
		if err != nil {
			return nil, err
		}

		if !looksLikeErrorResponse(body) {
			c.reportPollAttempt(PollAttempt{Attempt: attempt})
			return body, nil
		}

		var resp sendStatementResponse
		if err := xml.Unmarshal(body, &resp); err != nil {
			return nil, &UpstreamError{Phase: PhaseStatement, Message: fmt.Sprintf("malformed response: %v", err)}
		}

		code := ErrorCode(resp.ErrorCode)
		lastCode = code
		if !IsRetryableInPoll(code) {
			return nil, &UpstreamError{Phase: PhaseStatement, Code: code, Message: resp.ErrorMessage}
		}

		delay := c.retry.delayForAttempt(attempt, code)
		c.reportPollAttempt(PollAttempt{
			Attempt:           attempt,
			ErrorCode:         code,
			ErrorMessage:      resp.ErrorMessage,
			RetryAfterSeconds: delay.Seconds(),
		})

		if attempt == c.retry.Attempts-1 {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &PollTimeoutError{Attempts: c.retry.Attempts, LastCode: lastCode}
}

func (c *Client) reportPollAttempt(a PollAttempt) {
	if c.onPollAttempt != nil {
		c.onPollAttempt(a)
	}
}

// looksLikeErrorResponse distinguishes a FlexStatementResponse status
// envelope from the actual FlexQueryResponse statement payload, mirroring
// the upstream behavior where GetStatement returns the same envelope shape
// while the statement is not yet ready.
func looksLikeErrorResponse(body []byte) bool {
	trimmed := trimLeadingWhitespace(body)
	const prefix = "<FlexStatementResponse"
	if len(trimmed) < len(prefix) {
		return false
	}
	return string(trimmed[:len(prefix)]) == prefix
}

func trimLeadingWhitespace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

func (c *Client) get(ctx context.Context, url string, phase Phase) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", phase, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, &TimeoutError{Phase: phase, Err: err}
		}
		return nil, &TransportError{Phase: phase, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Phase: phase, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Phase: phase, Message: fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode)}
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
