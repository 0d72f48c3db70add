package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/forgo/trellis/internal/model"
)

// ErrorHandler renders err as a response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type errorMatcher struct {
	match  func(error) bool
	handle ErrorHandler
}

// ExceptionHandlers selects an ErrorHandler for a raised error. HTTP errors
// are matched by status first, then matchers run in registration order.
// Anything left over goes to DefaultErrorHandler.
type ExceptionHandlers struct {
	byStatus map[int]ErrorHandler
	matchers []errorMatcher
}

// NewExceptionHandlers returns an empty handler table.
func NewExceptionHandlers() *ExceptionHandlers {
	return &ExceptionHandlers{byStatus: map[int]ErrorHandler{}}
}

// OnStatus handles HTTP errors carrying status. Status 500 also handles
// panics caught by ServerErrors.
func (h *ExceptionHandlers) OnStatus(status int, fn ErrorHandler) *ExceptionHandlers {
	h.byStatus[status] = fn
	return h
}

// On handles every error for which match returns true.
func (h *ExceptionHandlers) On(match func(error) bool, fn ErrorHandler) *ExceptionHandlers {
	h.matchers = append(h.matchers, errorMatcher{match: match, handle: fn})
	return h
}

// OnType handles errors that errors.As can convert to E.
func OnType[E error](h *ExceptionHandlers, fn ErrorHandler) *ExceptionHandlers {
	return h.On(func(err error) bool {
		var target E
		return errors.As(err, &target)
	}, fn)
}

func (h *ExceptionHandlers) handlerFor(err error) ErrorHandler {
	if h == nil {
		return DefaultErrorHandler
	}
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		if fn, ok := h.byStatus[httpErr.Status]; ok {
			return fn
		}
	}
	for _, m := range h.matchers {
		if m.match(err) {
			return m.handle
		}
	}
	return DefaultErrorHandler
}

func (h *ExceptionHandlers) serverErrorHandler() ErrorHandler {
	if h != nil {
		if fn, ok := h.byStatus[http.StatusInternalServerError]; ok {
			return fn
		}
	}
	return DefaultErrorHandler
}

// DefaultErrorHandler writes err as problem details. Server-side failures
// are logged.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	pd := model.MapError(err)
	if pd.Status >= http.StatusInternalServerError {
		slog.Error("unhandled error",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
		)
	}
	if pd.Instance == "" {
		pd.Instance = r.URL.Path
	}
	pd.WriteJSON(w)
}

// errorSink receives the first error raised below an error boundary. An
// immediate sink renders at the raise site, through the writer the raiser
// was given, so middleware between the raiser and the boundary observes the
// response. A deferred sink leaves rendering to its boundary.
type errorSink struct {
	err       error
	immediate bool
	handlers  *ExceptionHandlers
}

// Raise hands err to the nearest enclosing error boundary (Exceptions or
// ServerErrors). Without one the error is rendered immediately by
// DefaultErrorHandler. The caller must not write to w afterwards.
func Raise(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	sink, ok := r.Context().Value(errorSinkKey).(*errorSink)
	if !ok {
		DefaultErrorHandler(w, r, err)
		return
	}
	if sink.err != nil {
		slog.Debug("error raised twice", slog.String("error", err.Error()))
		return
	}
	sink.err = err
	if sink.immediate {
		sink.handlers.handlerFor(err)(w, r, err)
	}
}

// raisable reports whether a panic value is an error endpoints use as a
// control-flow signal rather than a crash.
func raisable(v any) (error, bool) {
	err, ok := v.(error)
	if !ok {
		return nil, false
	}
	var httpErr *model.HTTPError
	var wsErr *model.WebSocketError
	if errors.As(err, &httpErr) || errors.As(err, &wsErr) {
		return err, true
	}
	return nil, false
}

// Exceptions installs an error boundary that renders raised errors with the
// matching handler from handlers. Panics carrying an *model.HTTPError or
// *model.WebSocketError count as raised; other panics propagate.
func Exceptions(handlers *ExceptionHandlers) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sink := &errorSink{}
			tw := wrapWriter(w)

			func() {
				defer func() {
					if rec := recover(); rec != nil {
						err, ok := raisable(rec)
						if !ok {
							panic(rec)
						}
						sink.err = err
					}
				}()
				next.ServeHTTP(tw, r.WithContext(context.WithValue(r.Context(), errorSinkKey, sink)))
			}()

			if sink.err == nil {
				return
			}
			if tw.wroteHeader {
				slog.Error("error raised after response started",
					slog.String("error", sink.err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				return
			}
			handlers.handlerFor(sink.err)(w, r, sink.err)
		})
	}
}

// ServerErrors is the outermost error boundary. It recovers panics and
// renders them as 500 responses, with the panic value and stack trace when
// debug is set. Errors raised by middleware outside Exceptions land here too
// and are rendered where they are raised.
func ServerErrors(debugMode bool, handlers *ExceptionHandlers) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := wrapWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if err, ok := raisable(rec); ok {
					if !tw.wroteHeader {
						handlers.handlerFor(err)(w, r, err)
					}
					return
				}

				stack := debug.Stack()
				slog.Error("panic recovered",
					slog.Any("error", rec),
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(stack)),
				)

				if tw.wroteHeader {
					return
				}
				if debugMode {
					w.Header().Set("Content-Type", "text/plain; charset=utf-8")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = fmt.Fprintf(w, "panic: %v\n\n%s", rec, stack)
					return
				}
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				handlers.serverErrorHandler()(w, r, err)
			}()

			sink := &errorSink{immediate: true, handlers: handlers}
			next.ServeHTTP(tw, r.WithContext(context.WithValue(r.Context(), errorSinkKey, sink)))
		})
	}
}
