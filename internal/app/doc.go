// Package app assembles a router, the error boundaries and a configured
// middleware stack into one http.Handler.
//
//	a := app.New(router,
//	    app.WithDebug(cfg.Server.Debug),
//	    app.WithMiddleware(stack...),
//	)
//	server := &http.Server{Handler: a}
//
// The stack is built on the first request; Use fails afterwards.
package app
