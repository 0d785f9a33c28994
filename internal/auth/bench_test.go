package auth

import (
	"context"
	"testing"
)

// ─── Password hashing (Argon2id, intentionally slow) ────────────────

func BenchmarkHasher_Hash(b *testing.B) {
	h := NewHasher(0)
	ctx := context.Background()

	for b.Loop() {
		h.Hash(ctx, "correct-horse-battery-staple") //nolint:errcheck // benchmark
	}
}

func BenchmarkHasher_Verify(b *testing.B) {
	h := NewHasher(0)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "correct-horse-battery-staple")
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}

	for b.Loop() {
		h.Verify(ctx, "correct-horse-battery-staple", hash) //nolint:errcheck // benchmark
	}
}

// ─── JWT tokens (per-request hot path) ──────────────────────────────

func BenchmarkIssuer_IssuePair(b *testing.B) {
	iss := NewIssuer(testTokenConfig())

	for b.Loop() {
		iss.IssuePair(tokenUser) //nolint:errcheck // benchmark
	}
}

func BenchmarkIssuer_VerifyAccess(b *testing.B) {
	iss := NewIssuer(testTokenConfig())

	token, err := iss.IssueAccess(tokenUser)
	if err != nil {
		b.Fatalf("IssueAccess: %v", err)
	}

	for b.Loop() {
		iss.VerifyAccess(token)
	}
}
