package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern records the matched route template on the context so
// metrics outside chi's routing scope can label by "/billing/sessions/{id}"
// instead of the literal path.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the stored pattern, or "" when the request
// never passed through RoutePatternMiddleware.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}
