package api

import "context"

type contextKey struct{}

// UserIDFromContext returns the author ID set by the auth middleware, or
// the empty string.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(contextKey{}).(string)

	return userID
}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}
