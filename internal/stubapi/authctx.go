package stubapi

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

// caller is who a verified access token says sent the request.
type caller struct {
	UserID uuid.UUID
	Email  string
}

type callerKey struct{}

func withCaller(ctx context.Context, c caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// callerFrom is false on routes where authentication is optional and no
// bearer was sent.
func callerFrom(ctx context.Context) (caller, bool) {
	c, ok := ctx.Value(callerKey{}).(caller)
	return c, ok && c.UserID != uuid.Nil
}
