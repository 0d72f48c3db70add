package routing

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

// RootPathKey holds the mount prefix of the current sub-application.
const RootPathKey contextKey = "rootPath"

// StripRoot removes root from the front of path. The match is a plain
// anchored prefix; "/api" also strips the front of "/apiary".
func StripRoot(path, root string) string {
	return strings.TrimPrefix(path, root)
}

// WithRootPath returns ctx carrying root as the mount prefix.
func WithRootPath(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, RootPathKey, root)
}

// RootPath extracts the mount prefix from context
func RootPath(ctx context.Context) string {
	if root, ok := ctx.Value(RootPathKey).(string); ok {
		return root
	}
	return ""
}

// RoutePath returns the request path relative to the current mount.
func RoutePath(r *http.Request) string {
	return StripRoot(r.URL.Path, RootPath(r.Context()))
}

// Mount runs h with prefix appended to the root path. The request URL is
// left untouched; handlers below use RoutePath to see their own position.
func Mount(prefix string, h http.Handler) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := RootPath(r.Context()) + prefix
		h.ServeHTTP(w, r.WithContext(WithRootPath(r.Context(), root)))
	})
}
