package rest

import "context"

type ctxKeyUserID struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, userID)
}

// GetUser returns the opaque caller identity set by the Identity middleware.
func GetUser(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKeyUserID{}).(string)
	if !ok || uid == "" {
		return "", false
	}
	return uid, true
}
