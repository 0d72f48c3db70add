package model

import (
	"context"
	"errors"
	"net/http"

	"github.com/forgo/trellis/internal/async"
)

// MapError converts an error returned by an endpoint or middleware into a
// ProblemDetails response. Single-cause groups are collapsed first so a lone
// HTTPError inside a task group keeps its status.
func MapError(err error) *ProblemDetails {
	if err == nil {
		return nil
	}
	err = async.Collapse(err)

	var httpErr *HTTPError
	var problem *ProblemDetails
	var wsErr *WebSocketError

	switch {
	case errors.As(err, &httpErr):
		return httpErr.Problem()
	case errors.As(err, &problem):
		return problem
	// A WebSocket closed before the handshake completes is a rejected upgrade.
	case errors.As(err, &wsErr):
		return NewForbiddenError(wsErr.Reason)
	case errors.Is(err, context.Canceled):
		return ClientClosedRequest().Problem()
	case errors.Is(err, context.DeadlineExceeded):
		return named(http.StatusGatewayTimeout, nil).Problem()
	}

	// Default: internal server error (don't expose internal details)
	return NewInternalError("")
}
