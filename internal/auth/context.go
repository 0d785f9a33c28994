package auth

import "context"

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying verified access token claims.
// Only the request gate should call this.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the verified claims attached by the request gate.
// The second result is false on routes that are not behind the gate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
