// Package routing tracks where a request sits inside mounted sub-applications.
//
// Mount records a prefix in the request context; RoutePath strips the
// accumulated prefix from the request path:
//
//	root.PathPrefix("/api").Handler(routing.Mount("/api", apiRouter))
//
//	// GET /api/users -> RoutePath(r) == "/users"
package routing
