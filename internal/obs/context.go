package obs

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type routeKey struct{}

// WithRoute pins the route label reported for a request. Handlers served
// outside chi use it; under chi the matched pattern is used instead.
func WithRoute(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routeKey{}, pattern)
}

// Route returns the label for r: a pinned route, else the chi pattern matched
// so far, else "". Middleware must call it after the handler has run, since
// chi only fills the pattern while routing.
func Route(r *http.Request) string {
	ctx := r.Context()
	if v, ok := ctx.Value(routeKey{}).(string); ok && v != "" {
		return v
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
