package tools

import "context"

type userIDKey struct{}

// WithUserID attaches the requesting user to the context so user-scoped
// tools can filter their reads.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFrom returns the user attached to the context, if any.
func UserIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}
