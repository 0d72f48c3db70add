package model

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// StatusClientClosedRequest is the non-standard status used when the client
// went away before a response was produced.
const StatusClientClosedRequest = 499

var (
	// ErrUnknownStatus is returned when a default detail is requested for a
	// status code that has no registered phrase.
	ErrUnknownStatus = errors.New("unknown HTTP status code")

	// ErrInvalidStatus is returned for codes outside 100..599.
	ErrInvalidStatus = errors.New("invalid HTTP status code")
)

// StatusPhrase returns the standard reason phrase for code.
func StatusPhrase(code int) (string, error) {
	if code < 100 || code > 599 {
		return "", fmt.Errorf("%w: %d", ErrInvalidStatus, code)
	}
	if phrase := http.StatusText(code); phrase != "" {
		return phrase, nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownStatus, code)
}

// HTTPError aborts request processing with a status code. It is returned by
// endpoints and rendered by the error-translation boundary.
type HTTPError struct {
	Status  int
	Detail  string
	Headers http.Header
}

// HTTPErrorOption customizes an HTTPError at construction.
type HTTPErrorOption func(*httpErrorOptions)

type httpErrorOptions struct {
	detail    string
	hasDetail bool
	headers   http.Header
}

// WithDetail sets an explicit detail. An empty string is kept as is.
func WithDetail(detail string) HTTPErrorOption {
	return func(o *httpErrorOptions) {
		o.detail = detail
		o.hasDetail = true
	}
}

// WithHeaders sets response header overrides.
func WithHeaders(h http.Header) HTTPErrorOption {
	return func(o *httpErrorOptions) {
		o.headers = h
	}
}

// WithHeader adds a single response header override.
func WithHeader(key, value string) HTTPErrorOption {
	return func(o *httpErrorOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Add(key, value)
	}
}

// NewHTTPError builds an HTTPError. Without WithDetail the detail is the
// standard phrase for status, which fails for unregistered codes.
func NewHTTPError(status int, opts ...HTTPErrorOption) (*HTTPError, error) {
	var o httpErrorOptions
	for _, opt := range opts {
		opt(&o)
	}
	if status < 100 || status > 599 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	detail := o.detail
	if !o.hasDetail {
		phrase, err := StatusPhrase(status)
		if err != nil {
			return nil, err
		}
		detail = phrase
	}
	return &HTTPError{
		Status:  status,
		Detail:  detail,
		Headers: o.headers.Clone(),
	}, nil
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Detail)
}

// GoString is used by %#v.
func (e *HTTPError) GoString() string {
	return fmt.Sprintf("HTTPError(status_code=%d, detail=%q)", e.Status, e.Detail)
}

// Problem converts the error into its wire form.
func (e *HTTPError) Problem() *ProblemDetails {
	title, err := StatusPhrase(e.Status)
	if err != nil {
		title = customPhrases[e.Status]
		if title == "" {
			title = e.Detail
		}
	}
	return &ProblemDetails{
		Type:    ProblemTypeBase + typeSlug(title),
		Title:   title,
		Status:  e.Status,
		Detail:  e.Detail,
		Code:    codeForStatus(e.Status),
		Headers: e.Headers.Clone(),
	}
}

// customPhrases covers codes used by this package that the standard table
// does not know.
var customPhrases = map[int]string{
	StatusClientClosedRequest: "Client Closed Request",
}

func named(status int, detail []string) *HTTPError {
	d, ok := customPhrases[status]
	if !ok {
		d = http.StatusText(status)
	}
	if len(detail) > 0 {
		d = detail[0]
	}
	return &HTTPError{Status: status, Detail: d}
}

// Named constructors for the statuses endpoints raise most often. The
// optional argument replaces the default detail.

func Unauthorized(detail ...string) *HTTPError {
	return named(http.StatusUnauthorized, detail)
}

func Forbidden(detail ...string) *HTTPError {
	return named(http.StatusForbidden, detail)
}

func NotFound(detail ...string) *HTTPError {
	return named(http.StatusNotFound, detail)
}

// MethodNotAllowed sets the Allow header from allowed.
func MethodNotAllowed(allowed []string, detail ...string) *HTTPError {
	e := named(http.StatusMethodNotAllowed, detail)
	if len(allowed) > 0 {
		e.Headers = http.Header{}
		for _, m := range allowed {
			e.Headers.Add("Allow", m)
		}
	}
	return e
}

// SeeOther redirects to location.
func SeeOther(location string, detail ...string) *HTTPError {
	e := named(http.StatusSeeOther, detail)
	e.Headers = http.Header{"Location": []string{location}}
	return e
}

func UnprocessableEntity(detail ...string) *HTTPError {
	return named(http.StatusUnprocessableEntity, detail)
}

func TooManyRequests(detail ...string) *HTTPError {
	return named(http.StatusTooManyRequests, detail)
}

func ClientClosedRequest(detail ...string) *HTTPError {
	return named(StatusClientClosedRequest, detail)
}

func InternalServerError(detail ...string) *HTTPError {
	return named(http.StatusInternalServerError, detail)
}

func NotImplemented(detail ...string) *HTTPError {
	return named(http.StatusNotImplemented, detail)
}

func BadGateway(detail ...string) *HTTPError {
	return named(http.StatusBadGateway, detail)
}

func ServiceUnavailable(detail ...string) *HTTPError {
	return named(http.StatusServiceUnavailable, detail)
}

// WebSocketError aborts a WebSocket session with a close code.
type WebSocketError struct {
	Code   int
	Reason string
}

func NewWebSocketError(code int, reason string) *WebSocketError {
	return &WebSocketError{Code: code, Reason: reason}
}

// Error implements the error interface
func (e *WebSocketError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Reason)
}

// GoString is used by %#v.
func (e *WebSocketError) GoString() string {
	return fmt.Sprintf("WebSocketError(code=%d, reason=%q)", e.Code, e.Reason)
}

// CloseMessage returns the payload of the close frame for this error.
func (e *WebSocketError) CloseMessage() []byte {
	return websocket.FormatCloseMessage(e.Code, e.Reason)
}

// CloseError returns the equivalent gorilla close error.
func (e *WebSocketError) CloseError() *websocket.CloseError {
	return &websocket.CloseError{Code: e.Code, Text: e.Reason}
}
