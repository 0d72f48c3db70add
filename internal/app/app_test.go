package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/trellis/internal/middleware"
	"github.com/forgo/trellis/internal/model"
)

// tag appends name to the body before and after the wrapped handler.
func tag(name string) middleware.Descriptor {
	return middleware.Wrapping(name, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(name + "("))
			next.ServeHTTP(w, r)
			_, _ = w.Write([]byte(")"))
		})
	})
}

var okRouter = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func names(stack []middleware.Descriptor) []string {
	out := make([]string, len(stack))
	for i, d := range stack {
		out[i] = d.Name()
	}
	return out
}

// ============================================================================
// Stack Tests
// ============================================================================

func TestApp_Stack_BoundariesSurroundUserStack(t *testing.T) {
	t.Parallel()

	a := New(okRouter, WithMiddleware(tag("A"), tag("B")))

	assert.Equal(t, []string{"ServerErrors", "A", "B", "Exceptions"}, names(a.Stack()))
}

func TestApp_Use_AddsOutermostLayer(t *testing.T) {
	t.Parallel()

	a := New(okRouter, WithMiddleware(tag("inner")))
	require.NoError(t, a.Use(tag("outer")))

	rr := httptest.NewRecorder()
	a.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "outer(inner(ok))", rr.Body.String())
}

func TestApp_Use_AfterFirstRequest_Fails(t *testing.T) {
	t.Parallel()

	a := New(okRouter)
	a.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	err := a.Use(tag("late"))

	assert.ErrorIs(t, err, ErrStackBuilt)
	assert.Equal(t, []string{"ServerErrors", "Exceptions"}, names(a.Stack()))
}

func TestApp_Handler_BuildsOnce(t *testing.T) {
	t.Parallel()

	builds := 0
	counted := middleware.Define("Counted", func(next http.Handler, _ []any, _ middleware.Options) (http.Handler, error) {
		builds++
		return next, nil
	})
	a := New(okRouter, WithMiddleware(counted))

	for i := 0; i < 3; i++ {
		a.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	assert.Equal(t, 1, builds)
}

func TestApp_BuildFailure_Returns500(t *testing.T) {
	t.Parallel()

	broken := middleware.Define("Broken", func(http.Handler, []any, middleware.Options) (http.Handler, error) {
		return nil, errors.New("bad options")
	})
	a := New(okRouter, WithMiddleware(broken))

	_, err := a.Handler()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Broken")

	rr := httptest.NewRecorder()
	a.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// ============================================================================
// Error Boundary Tests
// ============================================================================

func TestApp_RouterError_UsesExceptionHandlers(t *testing.T) {
	t.Parallel()

	handlers := middleware.NewExceptionHandlers().OnStatus(http.StatusNotFound, func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("custom 404"))
	})
	router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.Raise(w, r, model.NotFound())
	})

	rr := httptest.NewRecorder()
	New(router, WithExceptionHandlers(handlers)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "custom 404", rr.Body.String())
}

func TestApp_MiddlewareError_ReachesServerErrors(t *testing.T) {
	t.Parallel()

	gate := middleware.Wrapping("Gate", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware.Raise(w, r, model.Forbidden("closed"))
		})
	})

	rr := httptest.NewRecorder()
	New(okRouter, WithMiddleware(gate)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestApp_Panic_DebugShowsTrace(t *testing.T) {
	t.Parallel()

	router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rr := httptest.NewRecorder()
	New(router, WithDebug(true)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "panic: kaboom"))
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
}

func TestApp_Panic_ProductionHidesTrace(t *testing.T) {
	t.Parallel()

	router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rr := httptest.NewRecorder()
	New(router).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "kaboom")
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}
