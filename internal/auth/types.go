package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles. Every switch over Role must
// handle each constant; Valid rejects anything else.
type Role string

const (
	// RoleRealtor manages properties, tenants and leases. Self-registration
	// always creates a realtor.
	RoleRealtor Role = "realtor"

	// RoleTenant is a lease holder invited by a realtor.
	RoleTenant Role = "tenant"
)

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleRealtor, RoleTenant:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored or transmitted role string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// User is a registered identity.
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"` // never serialised
	FirstName    string          `json:"firstName"`
	LastName     string          `json:"lastName"`
	DisplayName  string          `json:"name"`
	Role         Role            `json:"role"`
	Profile      *RealtorProfile `json:"profile,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// RealtorProfile is the one-to-one profile created with a realtor account.
// Its details are filled in later by profile management outside this service.
type RealtorProfile struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Agency        string    `json:"agency,omitempty"`
	LicenseNumber string    `json:"licenseNumber,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// AccessExpiresIn is the access token lifetime.
	AccessExpiresIn time.Duration
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// It is applied before every store write and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// displayName joins first and last name.
func displayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// Sentinel errors for auth operations.
var (
	ErrDuplicateEmail      = errors.New("user with that email already exists")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrMissingToken        = errors.New("token is required")
	ErrTokenInvalid        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token has expired")
	ErrInvalidUser         = errors.New("invalid user")
	ErrServerMisconfigured = errors.New("server misconfigured: missing JWT secrets")
	ErrUserNotFound        = errors.New("user not found")
	ErrUnknownRole         = errors.New("unknown role")
)
