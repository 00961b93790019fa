package auth

import (
	"context"

	"github.com/your-org/facecheck/internal/credential"
)

type contextKey string

const claimsKey contextKey = "facecheck-claims"

// WithClaims stores verified claims on the context.
func WithClaims(ctx context.Context, claims *credential.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*credential.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*credential.Claims)
	return claims, ok
}
