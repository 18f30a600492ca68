package identity

import (
	"context"
)

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the BrokerClaims in the given context
func WithClaimsContext(r context.Context, claims *BrokerClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the BrokerClaims from the standard context
func GetClaims(ctx context.Context) (*BrokerClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*BrokerClaims)
	if raw == nil {
		return nil, false
	}
	return raw, ok
}

// Can is a convenience function to check a scope directly from the standard
// context.
func Can(ctx context.Context, scope string) bool {
	claims, ok := GetClaims(ctx)
	if !ok {
		return false
	}
	return claims.HasScope(scope)
}
