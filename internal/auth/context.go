package auth

import (
	"context"

	"github.com/vyrodovalexey/bearergate/internal/auth/jwt"
)

type principalContextKey struct{}

// ContextWithPrincipal returns a context carrying the validated principal.
func ContextWithPrincipal(ctx context.Context, principal *jwt.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal stored by the gate.
func PrincipalFromContext(ctx context.Context) (*jwt.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(*jwt.Principal)
	return principal, ok && principal != nil
}
