package auth

import (
	"context"
	"testing"
)

func TestClaimsContext(t *testing.T) {
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Error("ClaimsFromContext() on empty context reported claims")
	}

	claims := &Claims{Email: "a@x.com", Type: TokenAccess}
	claims.Subject = "usr-1"

	got, ok := ClaimsFromContext(WithClaims(context.Background(), claims))
	if !ok || got.UserID() != "usr-1" {
		t.Errorf("ClaimsFromContext() = %+v, %v", got, ok)
	}

	if _, ok := ClaimsFromContext(WithClaims(context.Background(), nil)); ok {
		t.Error("nil claims should not be reported as present")
	}
}

func TestSourceContext(t *testing.T) {
	if got := sourceFrom(context.Background()); got != "" {
		t.Errorf("sourceFrom(empty) = %q", got)
	}
	if got := sourceFrom(WithSource(context.Background(), "198.51.100.4")); got != "198.51.100.4" {
		t.Errorf("sourceFrom() = %q", got)
	}
}
