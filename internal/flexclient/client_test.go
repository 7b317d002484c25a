package flexclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableInPoll_Classification(t *testing.T) {
	assert.True(t, IsRetryableInPoll(ErrStatementNotReady))
	assert.True(t, IsRetryableInPoll(ErrStatementGenerating))
	assert.False(t, IsRetryableInPoll(ErrTokenExpired))
	assert.False(t, IsRetryableInPoll("9999"), "unknown codes are fatal, not retryable")
}

func TestIsTokenError_Classification(t *testing.T) {
	assert.True(t, IsTokenError(ErrTokenExpired))
	assert.True(t, IsTokenError(ErrTokenInvalid))
	assert.False(t, IsTokenError(ErrStatementNotReady))
}

func TestSendRequest_TokenExpiredRaisesTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<FlexStatementResponse><Status>Fail</Status><ErrorCode>1012</ErrorCode><ErrorMessage>Token expired.</ErrorMessage></FlexStatementResponse>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/send", srv.URL+"/get")
	_, err := c.SendRequest(context.Background(), "tok", "q1")

	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, ErrTokenExpired, tokenErr.Code)
}

func TestGetStatement_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			fmt.Fprint(w, `<FlexStatementResponse><Status>Fail</Status><ErrorCode>1019</ErrorCode><ErrorMessage>Statement generating.</ErrorMessage></FlexStatementResponse>`)
			return
		}
		fmt.Fprint(w, `<FlexQueryResponse><FlexStatements><FlexStatement accountId="U1234567"></FlexStatement></FlexStatements></FlexQueryResponse>`)
	}))
	defer srv.Close()

	c := newTestClientWithRetry(t, srv.URL, RetryConfig{
		Attempts: 5, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond,
		JitterMinMultiplier: 1, JitterMaxMultiplier: 1,
	})

	var polled []PollAttempt
	c.OnPollAttempt(func(a PollAttempt) { polled = append(polled, a) })

	body, err := c.GetStatement(context.Background(), "tok", "ref1")
	require.NoError(t, err)
	assert.Contains(t, string(body), "FlexQueryResponse")
	assert.Equal(t, 3, attempts)
	require.Len(t, polled, 3)
	assert.Equal(t, ErrStatementNotReady, polled[0].ErrorCode)
	assert.Equal(t, ErrorCode(""), polled[2].ErrorCode, "terminal success attempt carries no error code")
}

func TestGetStatement_FatalCodeStopsImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		fmt.Fprint(w, `<FlexStatementResponse><Status>Fail</Status><ErrorCode>9999</ErrorCode><ErrorMessage>Unknown.</ErrorMessage></FlexStatementResponse>`)
	}))
	defer srv.Close()

	c := newTestClientWithRetry(t, srv.URL, RetryConfig{
		Attempts: 5, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond,
		JitterMinMultiplier: 1, JitterMaxMultiplier: 1,
	})

	_, err := c.GetStatement(context.Background(), "tok", "ref1")
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "unknown codes are fatal and must not be retried")
}

func TestGetStatement_ExhaustsRetriesReturnsPollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<FlexStatementResponse><Status>Fail</Status><ErrorCode>1019</ErrorCode><ErrorMessage>Still generating.</ErrorMessage></FlexStatementResponse>`)
	}))
	defer srv.Close()

	c := newTestClientWithRetry(t, srv.URL, RetryConfig{
		Attempts: 3, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond,
		JitterMinMultiplier: 1, JitterMaxMultiplier: 1,
	})

	_, err := c.GetStatement(context.Background(), "tok", "ref1")
	var timeoutErr *PollTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 3, timeoutErr.Attempts)
}

func newTestClient(t *testing.T, sendURL, getURL string) *Client {
	t.Helper()
	c := New(RetryConfig{Attempts: 1, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond,
		JitterMinMultiplier: 1, JitterMaxMultiplier: 1}, 5*time.Second, zerolog.Nop())
	c.sendURL = sendURL
	c.getURL = getURL
	return c
}

func newTestClientWithRetry(t *testing.T, baseURL string, retry RetryConfig) *Client {
	t.Helper()
	c := New(retry, 5*time.Second, zerolog.Nop())
	c.sendURL = baseURL
	c.getURL = baseURL
	return c
}
