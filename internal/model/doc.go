// Package model defines the error taxonomy shared by middleware and handlers.
//
// # HTTP Errors
//
// Endpoints abort a request by returning an *HTTPError:
//
//	return model.NotFound()
//
//	e, err := model.NewHTTPError(http.StatusTooManyRequests,
//	    model.WithHeader("Retry-After", "30"))
//
// Without WithDetail the detail is the standard phrase for the status;
// NewHTTPError fails with ErrUnknownStatus when no phrase is registered.
//
// # WebSocket Errors
//
// WebSocket endpoints return a *WebSocketError to close the session with a
// specific close code and reason.
//
// # Problem Details
//
// The error boundary renders an HTTPError as RFC 9457 Problem Details:
//
//	type ProblemDetails struct {
//	    Type    string    `json:"type"`
//	    Title   string    `json:"title"`
//	    Status  int       `json:"status"`
//	    Detail  string    `json:"detail"`
//	}
package model
