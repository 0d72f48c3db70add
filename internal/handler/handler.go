package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/forgo/trellis/internal/async"
	"github.com/forgo/trellis/internal/middleware"
)

// ErrUnsupportedEndpoint is returned by Endpoint for values it cannot serve.
var ErrUnsupportedEndpoint = errors.New("unsupported endpoint type")

// Func is an endpoint that reports failure by returning an error. Errors are
// collapsed and raised to the nearest error boundary.
type Func func(w http.ResponseWriter, r *http.Request) error

func (f Func) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		middleware.Raise(w, r, async.Collapse(err))
	}
}

// AsyncFunc is an endpoint that produces its response on a future. The
// request context bounds the wait.
type AsyncFunc func(r *http.Request) *async.Future[*Response]

// ProducesFuture marks AsyncFunc as an async callable.
func (AsyncFunc) ProducesFuture() bool { return true }

func (f AsyncFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveFuture(w, r, f(r))
}

func serveFuture(w http.ResponseWriter, r *http.Request, fut *async.Future[*Response]) {
	if fut == nil {
		middleware.Raise(w, r, errors.New("async endpoint returned no future"))
		return
	}
	resp, err := fut.Await(r.Context())
	if err != nil {
		middleware.Raise(w, r, async.Collapse(err))
		return
	}
	if resp == nil {
		resp = &Response{}
	}
	resp.Write(w)
}

// Endpoint adapts fn to an http.Handler, deciding once whether it is
// synchronous or asynchronous. Accepted forms:
//
//   - http.Handler, including Func and AsyncFunc
//   - func(http.ResponseWriter, *http.Request)
//   - func(http.ResponseWriter, *http.Request) error
//   - func(*http.Request) *async.Future[*Response]
//   - *async.Partial wrapping one of the function forms
func Endpoint(fn any) (http.Handler, error) {
	switch f := fn.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedEndpoint)
	case http.Handler:
		return f, nil
	case func(http.ResponseWriter, *http.Request):
		return http.HandlerFunc(f), nil
	case func(http.ResponseWriter, *http.Request) error:
		return Func(f), nil
	case func(*http.Request) *async.Future[*Response]:
		return AsyncFunc(f), nil
	case *async.Partial:
		return partialEndpoint(f, async.IsAsyncCallable(f)), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedEndpoint, fn)
}

// MustEndpoint is Endpoint for route tables built at startup.
func MustEndpoint(fn any) http.Handler {
	h, err := Endpoint(fn)
	if err != nil {
		panic(err)
	}
	return h
}

// partialEndpoint serves a bound function. Async partials receive the
// request; sync partials receive the writer and the request.
func partialEndpoint(p *async.Partial, isAsync bool) http.Handler {
	if isAsync {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out, err := p.Call(r)
			if err != nil {
				middleware.Raise(w, r, err)
				return
			}
			fut, ok := first(out).(*async.Future[*Response])
			if !ok {
				middleware.Raise(w, r, fmt.Errorf("%w: async partial returned %T", ErrUnsupportedEndpoint, first(out)))
				return
			}
			serveFuture(w, r, fut)
		})
	}
	return Func(func(w http.ResponseWriter, r *http.Request) error {
		out, err := p.Call(w, r)
		if err != nil {
			return err
		}
		if e, ok := first(out).(error); ok {
			return e
		}
		return nil
	})
}

func first(out []any) any {
	if len(out) == 0 {
		return nil
	}
	return out[0]
}
