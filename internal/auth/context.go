package auth

import (
	"context"

	"github.com/voxgate/voxgate/internal/model"
)

type authKey struct{}

// ContextWithAuth returns a copy of ctx carrying the admitted caller.
func ContextWithAuth(ctx context.Context, a *model.AuthContext) context.Context {
	return context.WithValue(ctx, authKey{}, a)
}

// AuthFromContext returns the caller admitted by the request gate, or nil
// outside a gated route.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	a, _ := ctx.Value(authKey{}).(*model.AuthContext)
	return a
}
