package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Argon2id parameters, OWASP 2025 recommendation. One hash costs roughly as
// much as bcrypt at cost 12 or more.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// dummyHash is verified when a login names an unknown email, so the response
// takes as long as a wrong-password attempt.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$c29tZXNhbHRzb21lc2FsdA$a2V5c3RvbmUtZHVtbXktaGFzaC1rZXlzdG9uZS1kdW0"

// ErrUnsupportedHash is returned for stored hashes in an unknown format.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Hasher hashes and verifies passwords on a bounded pool so CPU-heavy work
// cannot starve unrelated requests.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hasher struct {
	slots *semaphore.Weighted
}

// NewHasher creates a Hasher allowing maxConcurrent simultaneous hash
// computations. Values below 1 mean runtime.GOMAXPROCS(0).
func NewHasher(maxConcurrent int) *Hasher {
	if maxConcurrent < 1 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	return &Hasher{slots: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Hash returns the Argon2id PHC string for plaintext.
// Waiting for a pool slot honours ctx.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for hashing slot: %w", err)
	}
	defer h.slots.Release(1)

	return HashPassword(plaintext)
}

// Verify reports whether plaintext matches encoded. Argon2id PHC strings and
// bcrypt hashes imported from the previous platform are both accepted.
func (h *Hasher) Verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("waiting for hashing slot: %w", err)
	}
	defer h.slots.Release(1)

	if isBcryptHash(encoded) {
		return verifyBcrypt(plaintext, encoded)
	}
	return VerifyPassword(plaintext, encoded)
}

// VerifyDummy performs one full verification against a fixed hash and
// discards the result.
func (h *Hasher) VerifyDummy(ctx context.Context, plaintext string) {
	_, _ = h.Verify(ctx, plaintext, dummyHash) //nolint:errcheck // timing only
}

// NeedsRehash reports whether encoded should be replaced by a fresh Argon2id
// hash: bcrypt imports, and Argon2id strings with weaker parameters than the
// current ones. Unknown formats are left alone.
func NeedsRehash(encoded string) bool {
	if isBcryptHash(encoded) {
		return true
	}
	p, err := decodePHC(encoded)
	if err != nil {
		return false
	}
	return p.time < argonTime || p.memory < argonMemory || len(p.key) < argonKeyLen
}

// HashPassword hashes a plaintext password using Argon2id and returns it
// in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks a plaintext password against an Argon2id PHC string
// using a constant-time comparison.
func VerifyPassword(password, encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key))) //nolint:gosec // G115: key length always fits uint32

	return subtle.ConstantTimeCompare(p.key, candidate) == 1, nil
}

type phcHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

// decodePHC parses an Argon2id PHC string.
func decodePHC(encoded string) (phcHash, error) {
	var p phcHash

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // "", alg, version, params, salt, key
		return p, fmt.Errorf("%w: expected 6 PHC fields", ErrUnsupportedHash)
	}
	if parts[1] != "argon2id" {
		return p, fmt.Errorf("%w: algorithm %q", ErrUnsupportedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return p, fmt.Errorf("%w: argon2 version %d", ErrUnsupportedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, fmt.Errorf("parsing parameters: %w", err)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, fmt.Errorf("decoding salt: %w", err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, fmt.Errorf("decoding hash: %w", err)
	}
	if len(p.key) == 0 {
		return p, fmt.Errorf("%w: empty key", ErrUnsupportedHash)
	}

	return p, nil
}

func isBcryptHash(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// verifyBcrypt checks a legacy bcrypt hash. bcrypt compares in constant time.
func verifyBcrypt(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verifying bcrypt hash: %w", err)
	}
}
