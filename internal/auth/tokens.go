package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token lifetimes, used when TokenConfig leaves a TTL at zero.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenClass distinguishes access tokens from refresh tokens. It is carried
// in the typ claim and checked on verification.
type TokenClass string

const (
	TokenAccess  TokenClass = "access"
	TokenRefresh TokenClass = "refresh"
)

// Each class has its own algorithm as well as its own secret.
var (
	accessMethod  = jwt.SigningMethodHS256
	refreshMethod = jwt.SigningMethodHS512
)

// TokenConfig is the explicit token configuration handed to NewIssuer.
// An empty secret leaves the issuer misconfigured rather than falling back
// to a default.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Issuer is set as the iss claim and required on verification when non-empty.
	Issuer string
}

// Claims is the payload of both token classes.
type Claims struct {
	jwt.RegisteredClaims
	Email string     `json:"email"`
	Type  TokenClass `json:"typ"`
}

// UserID returns the subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Outcome classifies a verification result.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeExpired
	OutcomeMalformed
	OutcomeMisconfigured
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeMisconfigured:
		return "misconfigured"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Verification is the result of verifying a token. Claims is set only when
// Outcome is OutcomeValid; Reason carries the underlying parser error for logs.
type Verification struct {
	Outcome Outcome
	Claims  *Claims
	Reason  error
}

// Valid reports whether the token verified.
func (v Verification) Valid() bool {
	return v.Outcome == OutcomeValid
}

// Err maps the outcome onto the package's sentinel errors.
func (v Verification) Err() error {
	switch v.Outcome {
	case OutcomeValid:
		return nil
	case OutcomeExpired:
		return ErrTokenExpired
	case OutcomeMisconfigured:
		return ErrServerMisconfigured
	case OutcomeMalformed:
		return ErrTokenInvalid
	default:
		return ErrTokenInvalid
	}
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithClock replaces time.Now for issuing and verifying. Used by tests to
// move past token expiry without sleeping.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// Issuer signs and verifies access and refresh tokens.
//
// Thread Safety:
//   - Immutable after construction; safe for concurrent use.
type Issuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewIssuer creates an Issuer. Zero TTLs take the package defaults.
func NewIssuer(cfg TokenConfig, opts ...IssuerOption) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	i := &Issuer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Configured reports whether both secrets are present.
func (i *Issuer) Configured() bool {
	return i.cfg.AccessSecret != "" && i.cfg.RefreshSecret != ""
}

// AccessTTL returns the access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

// IssueAccess signs an access token for user.
func (i *Issuer) IssueAccess(user *User) (string, error) {
	return i.issue(user, TokenAccess)
}

// IssueRefresh signs a refresh token for user.
func (i *Issuer) IssueRefresh(user *User) (string, error) {
	return i.issue(user, TokenRefresh)
}

// IssuePair signs a fresh access and refresh token. Both secrets are checked
// before either token is signed.
func (i *Issuer) IssuePair(user *User) (TokenPair, error) {
	if !i.Configured() {
		return TokenPair{}, ErrServerMisconfigured
	}

	access, err := i.IssueAccess(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.IssueRefresh(user)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresIn: i.cfg.AccessTTL,
	}, nil
}

// VerifyAccess verifies an access token.
func (i *Issuer) VerifyAccess(token string) Verification {
	return i.verify(token, TokenAccess)
}

// VerifyRefresh verifies a refresh token.
func (i *Issuer) VerifyRefresh(token string) Verification {
	return i.verify(token, TokenRefresh)
}

func (i *Issuer) params(class TokenClass) (secret string, method jwt.SigningMethod, ttl time.Duration) {
	switch class {
	case TokenAccess:
		return i.cfg.AccessSecret, accessMethod, i.cfg.AccessTTL
	case TokenRefresh:
		return i.cfg.RefreshSecret, refreshMethod, i.cfg.RefreshTTL
	default:
		return "", nil, 0
	}
}

func (i *Issuer) issue(user *User, class TokenClass) (string, error) {
	secret, method, ttl := i.params(class)
	if secret == "" {
		return "", ErrServerMisconfigured
	}
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("issuing %s token: %w", class, ErrInvalidUser)
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Email: user.Email,
		Type:  class,
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", class, err)
	}
	return signed, nil
}

func (i *Issuer) verify(token string, class TokenClass) Verification {
	secret, method, _ := i.params(class)
	if secret == "" {
		return Verification{Outcome: OutcomeMisconfigured, Reason: ErrServerMisconfigured}
	}
	if token == "" {
		return Verification{Outcome: OutcomeMalformed, Reason: ErrMissingToken}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Verification{Outcome: OutcomeExpired, Reason: err}
	case err != nil:
		return Verification{Outcome: OutcomeMalformed, Reason: err}
	case !parsed.Valid:
		return Verification{Outcome: OutcomeMalformed, Reason: ErrTokenInvalid}
	}

	if claims.Type != class {
		return Verification{Outcome: OutcomeMalformed, Reason: fmt.Errorf("token class %q, want %q", claims.Type, class)}
	}
	if claims.Subject == "" {
		return Verification{Outcome: OutcomeMalformed, Reason: errors.New("missing subject")}
	}

	return Verification{Outcome: OutcomeValid, Claims: claims}
}
