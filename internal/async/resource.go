package async

import (
	"context"
	"errors"
	"sync"
)

// ErrAbandoned is returned by Enter after an earlier Enter gave up waiting.
var ErrAbandoned = errors.New("async: resource abandoned")

// Closer is a resource released asynchronously.
type Closer interface {
	Close(ctx context.Context) error
}

// Resource adapts a pending resource for two call shapes: awaited directly
// with Await, or acquired for a scope with Enter/Exit (or Using).
type Resource[T Closer] struct {
	pending *Future[T]

	mu        sync.Mutex
	entered   T
	acquired  bool
	closed    bool
	abandoned bool
}

// NewResource wraps a future that yields a closeable resource.
func NewResource[T Closer](pending *Future[T]) *Resource[T] {
	return &Resource[T]{pending: pending}
}

// Await returns the resource. The caller owns closing it.
func (r *Resource[T]) Await(ctx context.Context) (T, error) {
	return r.pending.Await(ctx)
}

// Enter acquires the resource for a scope ended by Exit. If ctx ends first,
// the resource is closed as soon as it is produced and later calls fail with
// ErrAbandoned.
func (r *Resource[T]) Enter(ctx context.Context) (T, error) {
	r.mu.Lock()
	abandoned := r.abandoned
	r.mu.Unlock()
	if abandoned {
		var zero T
		return zero, ErrAbandoned
	}

	v, err := r.pending.Await(ctx)
	if err != nil {
		if r.pending.Err() != nil {
			return v, err
		}
		r.mu.Lock()
		r.abandoned = true
		r.mu.Unlock()
		go r.release()
		return v, err
	}
	r.mu.Lock()
	r.entered = v
	r.acquired = true
	r.mu.Unlock()
	return v, nil
}

// release closes a value that arrives after its scope was given up. A failed
// acquisition has nothing to close.
func (r *Resource[T]) release() {
	v, err := r.pending.Await(context.Background())
	if err != nil {
		return
	}
	_ = v.Close(context.Background())
}

// Exit closes the resource if Enter acquired it. Repeated calls are no-ops.
// Closing ignores cancellation of ctx.
func (r *Resource[T]) Exit(ctx context.Context) error {
	r.mu.Lock()
	if !r.acquired || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	v := r.entered
	r.mu.Unlock()

	return v.Close(context.WithoutCancel(ctx))
}

// Using acquires r, runs fn with the resource and closes it on every exit
// path, panics included. A close failure is joined with fn's error.
func Using[T Closer](ctx context.Context, r *Resource[T], fn func(T) error) (err error) {
	v, err := r.Enter(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Exit(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(v)
}
