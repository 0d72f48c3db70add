// Package middleware provides HTTP middleware for the Trellis server.
//
// Middleware is declared with a Descriptor before the application it wraps
// exists, then instantiated once by Build:
//
//	stack := []middleware.Descriptor{
//		middleware.Wrapping("RequestID", middleware.RequestID),
//		middleware.Define("GZip", gzipFactory).With("minimum_size", 1000),
//	}
//	h, err := middleware.Build(router, stack...)
//
// The first descriptor is the outermost layer. A Registry maps names to
// factories so the stack can come from configuration instead.
//
// # Available Middleware
//
//   - RequestID: assigns X-Request-ID
//   - Logger: structured request logging
//   - CORS: cross-origin headers and preflight handling
//   - GZip: response compression above a minimum size
//   - RateLimit: per-client token buckets
//   - Idempotency: replays responses for repeated Idempotency-Key requests
//   - Metrics.Instrument: Prometheus request metrics
//   - Authentication and Requires: pluggable backends and scope checks
//   - Exceptions and ServerErrors: error boundaries
//
// # Raising Errors
//
// Handlers and middleware report failures with Raise. The nearest error
// boundary picks a handler from its ExceptionHandlers; without a boundary
// the error is written as problem details straight away.
//
// # Context Values
//
//   - GetRequestID(ctx): unique request identifier
//   - GetUser(ctx): authenticated user or UnauthenticatedUser
//   - GetAuth(ctx): granted scopes
package middleware
