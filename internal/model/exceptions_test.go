package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// NewHTTPError Tests
// ============================================================================

func TestNewHTTPError_DefaultDetailIsStandardPhrase(t *testing.T) {
	t.Parallel()

	for code := 100; code <= 599; code++ {
		phrase := http.StatusText(code)
		if phrase == "" {
			continue
		}
		e, err := NewHTTPError(code)
		require.NoError(t, err, "status %d", code)
		assert.Equal(t, phrase, e.Detail, "status %d", code)
		assert.Equal(t, code, e.Status)
	}
}

func TestNewHTTPError_UnknownStatusWithoutDetailFails(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPError(299)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStatus))
}

func TestNewHTTPError_UnknownStatusWithDetailSucceeds(t *testing.T) {
	t.Parallel()

	e, err := NewHTTPError(StatusClientClosedRequest, WithDetail("client went away"))

	require.NoError(t, err)
	assert.Equal(t, "client went away", e.Detail)
}

func TestNewHTTPError_OutOfRangeAlwaysFails(t *testing.T) {
	t.Parallel()

	for _, code := range []int{0, 99, 600, -1} {
		_, err := NewHTTPError(code, WithDetail("x"))
		assert.ErrorIs(t, err, ErrInvalidStatus, "status %d", code)
	}
}

func TestNewHTTPError_EmptyExplicitDetailIsKept(t *testing.T) {
	t.Parallel()

	e, err := NewHTTPError(http.StatusNotFound, WithDetail(""))

	require.NoError(t, err)
	assert.Equal(t, "", e.Detail)
}

func TestNewHTTPError_HeadersAreCopied(t *testing.T) {
	t.Parallel()

	h := http.Header{"Retry-After": []string{"5"}}
	e, err := NewHTTPError(http.StatusServiceUnavailable, WithHeaders(h))
	require.NoError(t, err)

	h.Set("Retry-After", "10")

	assert.Equal(t, "5", e.Headers.Get("Retry-After"))
}

func TestHTTPError_StringForms(t *testing.T) {
	t.Parallel()

	e, err := NewHTTPError(http.StatusNotFound)
	require.NoError(t, err)

	assert.Equal(t, "404: Not Found", e.Error())
	assert.Equal(t, `HTTPError(status_code=404, detail="Not Found")`, fmt.Sprintf("%#v", e))
}

func TestHTTPError_ErrorsAs(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("lookup: %w", Forbidden("nope"))

	var target *HTTPError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, http.StatusForbidden, target.Status)
	assert.Equal(t, "nope", target.Detail)
}

// ============================================================================
// Problem Conversion Tests
// ============================================================================

func TestHTTPError_Problem_CarriesStatusDetailHeaders(t *testing.T) {
	t.Parallel()

	e := SeeOther("/login")
	pd := e.Problem()

	assert.Equal(t, http.StatusSeeOther, pd.Status)
	assert.Equal(t, "See Other", pd.Title)
	assert.Equal(t, "/login", pd.Headers.Get("Location"))
	assert.Equal(t, ProblemTypeBase+"see-other", pd.Type)

	pd.Headers.Set("Location", "/elsewhere")
	assert.Equal(t, "/login", e.Headers.Get("Location"))
}

func TestHTTPError_Problem_CustomStatusTitle(t *testing.T) {
	t.Parallel()

	pd := ClientClosedRequest().Problem()

	assert.Equal(t, "Client Closed Request", pd.Title)
	assert.Equal(t, ErrCodeClientClosed, pd.Code)
}

// ============================================================================
// Named Constructor Tests
// ============================================================================

func TestNamedConstructors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		e      *HTTPError
		status int
		detail string
	}{
		{Unauthorized(), 401, "Unauthorized"},
		{Forbidden(), 403, "Forbidden"},
		{NotFound(), 404, "Not Found"},
		{MethodNotAllowed(nil), 405, "Method Not Allowed"},
		{SeeOther("/"), 303, "See Other"},
		{UnprocessableEntity(), 422, "Unprocessable Entity"},
		{TooManyRequests(), 429, "Too Many Requests"},
		{ClientClosedRequest(), 499, "Client Closed Request"},
		{InternalServerError(), 500, "Internal Server Error"},
		{NotImplemented(), 501, "Not Implemented"},
		{BadGateway(), 502, "Bad Gateway"},
		{ServiceUnavailable(), 503, "Service Unavailable"},
		{NotFound("no such user"), 404, "no such user"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.e.Status)
		assert.Equal(t, tc.detail, tc.e.Detail)
	}
}

func TestMethodNotAllowed_SetsAllowHeader(t *testing.T) {
	t.Parallel()

	e := MethodNotAllowed([]string{"GET", "HEAD"})

	assert.Equal(t, []string{"GET", "HEAD"}, e.Headers.Values("Allow"))
}

// ============================================================================
// WebSocketError Tests
// ============================================================================

func TestWebSocketError_StringForms(t *testing.T) {
	t.Parallel()

	e := NewWebSocketError(websocket.ClosePolicyViolation, "auth required")

	assert.Equal(t, "1008: auth required", e.Error())
	assert.Equal(t, `WebSocketError(code=1008, reason="auth required")`, fmt.Sprintf("%#v", e))
}

func TestWebSocketError_EmptyReason(t *testing.T) {
	t.Parallel()

	e := NewWebSocketError(websocket.CloseNormalClosure, "")

	assert.Equal(t, "1000: ", e.Error())
}

func TestWebSocketError_CloseMessageAndError(t *testing.T) {
	t.Parallel()

	e := NewWebSocketError(websocket.CloseTryAgainLater, "busy")

	msg := e.CloseMessage()
	require.Len(t, msg, 2+len("busy"))
	assert.Equal(t, byte(websocket.CloseTryAgainLater>>8), msg[0])
	assert.Equal(t, byte(websocket.CloseTryAgainLater&0xff), msg[1])
	assert.Equal(t, "busy", string(msg[2:]))

	ce := e.CloseError()
	assert.Equal(t, websocket.CloseTryAgainLater, ce.Code)
	assert.Equal(t, "busy", ce.Text)
}
