package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/forgo/trellis/internal/middleware"
	"github.com/forgo/trellis/internal/model"
)

// ErrStackBuilt is returned when middleware is added after the stack has
// been assembled.
var ErrStackBuilt = errors.New("cannot add middleware after the application has started")

// App wraps a router with the error boundaries and a user middleware
// stack. The stack is assembled on first use:
//
//	ServerErrors -> user stack -> Exceptions -> router
type App struct {
	router   http.Handler
	debug    bool
	handlers *middleware.ExceptionHandlers

	mu    sync.Mutex
	stack []middleware.Descriptor
	built bool

	once     sync.Once
	handler  http.Handler
	buildErr error
}

// Option configures an App
type Option func(*App)

// WithDebug renders panics with their stack trace.
func WithDebug(debug bool) Option {
	return func(a *App) { a.debug = debug }
}

// WithExceptionHandlers sets the handlers both error boundaries consult.
func WithExceptionHandlers(h *middleware.ExceptionHandlers) Option {
	return func(a *App) { a.handlers = h }
}

// WithMiddleware sets the initial user stack, outermost first.
func WithMiddleware(stack ...middleware.Descriptor) Option {
	return func(a *App) { a.stack = append([]middleware.Descriptor(nil), stack...) }
}

// New creates an App serving router.
func New(router http.Handler, opts ...Option) *App {
	a := &App{router: router}
	for _, opt := range opts {
		opt(a)
	}
	if a.handlers == nil {
		a.handlers = middleware.NewExceptionHandlers()
	}
	return a
}

// Use adds middleware as the new outermost layers of the user stack, so the
// last call wraps everything added before it. It fails once the stack has
// been built.
func (a *App) Use(stack ...middleware.Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.built {
		return ErrStackBuilt
	}
	a.stack = append(append([]middleware.Descriptor(nil), stack...), a.stack...)
	return nil
}

// Stack returns the full middleware stack, outermost first, including the
// error boundaries.
func (a *App) Stack() []middleware.Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fullStack()
}

func (a *App) fullStack() []middleware.Descriptor {
	full := make([]middleware.Descriptor, 0, len(a.stack)+2)
	full = append(full, middleware.Define("ServerErrors", boundaryFactory(middleware.ServerErrors(a.debug, a.handlers))))
	full = append(full, a.stack...)
	full = append(full, middleware.Define("Exceptions", boundaryFactory(middleware.Exceptions(a.handlers))))
	return full
}

func boundaryFactory(mw middleware.Middleware) middleware.Factory {
	return func(next http.Handler, _ []any, _ middleware.Options) (http.Handler, error) {
		return mw(next), nil
	}
}

// Handler builds the stack once and returns the result.
func (a *App) Handler() (http.Handler, error) {
	a.once.Do(func() {
		a.mu.Lock()
		a.built = true
		stack := a.fullStack()
		a.mu.Unlock()

		a.handler, a.buildErr = middleware.Build(a.router, stack...)
		if a.buildErr != nil {
			a.buildErr = fmt.Errorf("build application: %w", a.buildErr)
			slog.Error("failed to build middleware stack", slog.String("error", a.buildErr.Error()))
		}
	})
	return a.handler, a.buildErr
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h, err := a.Handler()
	if err != nil {
		model.NewInternalError("").WriteJSON(w)
		return
	}
	h.ServeHTTP(w, r)
}
