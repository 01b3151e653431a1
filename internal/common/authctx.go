package common

import "context"

type ctxKey string

const clientIDKey ctxKey = "auth/client-id"

// WithClientID stores the authenticated API client identifier on the context.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientID extracts the authenticated API client identifier from the context if present.
func ClientID(ctx context.Context) (string, bool) {
	v := ctx.Value(clientIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
