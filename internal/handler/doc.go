// Package handler adapts endpoint functions to net/http.
//
// Endpoint decides once, at registration, whether a function runs
// synchronously or produces a future:
//
//	router.Handle("/items", handler.MustEndpoint(func(w http.ResponseWriter, r *http.Request) error {
//	    return model.NotFound()
//	}))
//	router.Handle("/slow", handler.AsyncFunc(func(r *http.Request) *async.Future[*handler.Response] {
//	    return async.Go(r.Context(), compute)
//	}))
//
// Returned errors are raised to the nearest error boundary installed by the
// middleware package, or written as RFC 9457 Problem Details without one.
//
// # Response Format
//
//   - WriteData: single resource with optional HATEOAS links
//   - WriteJSON: raw JSON response
//   - DecodeJSON: strict body decoding failing with a 400 HTTP error
//   - Response: status, headers and body produced by an async endpoint
//
// # Forms and WebSockets
//
// Form parses a body in the background and yields an async.Resource that
// removes multipart temp files on close. WebSocket upgrades a request and
// closes the session with the code carried by a returned
// model.WebSocketError.
package handler
