package async

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group aggregates failures raised by concurrently running tasks.
type Group struct {
	errs []error
}

// NewGroup returns a *Group holding the non-nil errs, or nil if there are none.
func NewGroup(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &Group{errs: kept}
}

func (g *Group) Error() string {
	msgs := make([]string, len(g.errs))
	for i, err := range g.errs {
		msgs[i] = err.Error()
	}
	noun := "errors"
	if len(g.errs) == 1 {
		noun = "error"
	}
	return fmt.Sprintf("%d %s in group: %s", len(g.errs), noun, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is and errors.As see every cause.
func (g *Group) Unwrap() []error {
	return g.errs
}

// Causes returns a copy of the grouped errors.
func (g *Group) Causes() []error {
	return append([]error(nil), g.errs...)
}

type multiError interface {
	Unwrap() []error
}

// Collapse peels groups holding exactly one cause until it reaches an error
// that is not such a group. Any error with Unwrap() []error counts as a
// group, so errors.Join results collapse as well.
func Collapse(err error) error {
	for err != nil {
		g, ok := err.(multiError)
		if !ok {
			return err
		}
		causes := g.Unwrap()
		if len(causes) != 1 {
			return err
		}
		err = causes[0]
	}
	return err
}

// Causes splits err into a single cause or multiple causes after collapsing.
// Exactly one of the results is set for a non-nil err.
func Causes(err error) (single error, multiple []error) {
	err = Collapse(err)
	if err == nil {
		return nil, nil
	}
	if g, ok := err.(multiError); ok {
		return nil, append([]error(nil), g.Unwrap()...)
	}
	return err, nil
}

// CollapseGroups runs fn and returns its error collapsed.
func CollapseGroups(fn func() error) error {
	return Collapse(fn())
}

// RunAll runs every task concurrently. The first failure cancels the shared
// context; all failures are returned as a *Group. Cancellation errors caused
// by a sibling's failure are dropped.
func RunAll(ctx context.Context, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		failures []error
	)
	for _, task := range tasks {
		g.Go(func() error {
			err := task(gctx)
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			return err
		})
	}
	_ = g.Wait()

	var primary, cancelled []error
	for _, err := range failures {
		if errors.Is(err, context.Canceled) {
			cancelled = append(cancelled, err)
			continue
		}
		primary = append(primary, err)
	}
	if len(primary) == 0 {
		return NewGroup(cancelled...)
	}
	return NewGroup(primary...)
}
