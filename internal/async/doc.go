// Package async provides small adapters for asynchronous work: futures,
// async-callable detection, error groups and scoped resources.
//
// # Futures
//
//	f := async.Go(ctx, func(ctx context.Context) (*Conn, error) { ... })
//	conn, err := f.Await(ctx)
//
// # Scoped Resources
//
// A Resource can be awaited directly (the caller closes it) or acquired
// for a scope, in which case it is closed exactly once on exit:
//
//	err := async.Using(ctx, async.NewResource(f), func(c *Conn) error {
//	    return c.Send(ctx, msg)
//	})
//
// # Error Groups
//
// RunAll reports every failure of concurrently run tasks as a *Group.
// Collapse reduces groups holding a single cause to that cause, so callers
// can match on the underlying error.
package async
