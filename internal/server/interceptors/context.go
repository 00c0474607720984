package interceptors

import "context"

type contextKey struct{ name string }

var ownerIDKey = contextKey{"owner_id"}

// WithOwner returns a context carrying the authenticated owner id.
// Handlers read it via GetOwnerID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// GetOwnerID returns the owner_id from context and true if set; otherwise "", false.
func GetOwnerID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ownerIDKey).(string)
	return v, ok
}
