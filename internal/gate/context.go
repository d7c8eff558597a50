package gate

import (
	"context"

	"github.com/kitbridge/kitbridge/internal/token"
)

type claimsContextKey struct{}

// ContextWithClaims stores verified claims in context.
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts the verified claims from context.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims
}
