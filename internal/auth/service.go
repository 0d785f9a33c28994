package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PasswordHasher is implemented by *Hasher.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, encoded string) (bool, error)
	VerifyDummy(ctx context.Context, plaintext string)
}

// ServiceDeps holds the collaborators of a Service.
type ServiceDeps struct {
	Store  UserStore
	Hasher PasswordHasher
	Issuer *Issuer
	// Events is optional.
	Events EventSink
}

// Service orchestrates registration, login and refresh.
//
// Errors returned are, or wrap, one of the package sentinels. Anything that
// does not match a sentinel is an internal failure whose text must not reach
// clients.
type Service struct {
	store  UserStore
	hasher PasswordHasher
	issuer *Issuer
	events EventSink
	now    func() time.Time
}

// NewService validates deps and creates a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if deps.Hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if deps.Issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}

	events := deps.Events
	if events == nil {
		events = noopSink{}
	}

	return &Service{
		store:  deps.Store,
		hasher: deps.Hasher,
		issuer: deps.Issuer,
		events: events,
		now:    time.Now,
	}, nil
}

// Register creates a realtor account with an empty profile.
//
// Registration is refused with ErrServerMisconfigured while token secrets are
// missing, since the new account could not log in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if !s.issuer.Configured() {
		return nil, ErrServerMisconfigured
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         RoleRealtor,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.emit(ctx, Event{Type: EventRegistered, UserID: user.ID, Email: user.Email})
	return user, nil
}

// Login verifies credentials and issues a token pair. Unknown email and wrong
// password both yield ErrInvalidCredentials after the same hashing work.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	if !s.issuer.Configured() {
		return TokenPair{}, nil, ErrServerMisconfigured
	}

	email = NormalizeEmail(email)
	user, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		s.hasher.VerifyDummy(ctx, password)
		s.emit(ctx, Event{Type: EventLoginFailed, Email: email, Reason: "unknown_email"})
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("verifying password for %s: %w", user.ID, err)
	}
	if !ok {
		s.emit(ctx, Event{Type: EventLoginFailed, UserID: user.ID, Email: email, Reason: "wrong_password"})
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	pair, err := s.issuer.IssuePair(user)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("issuing tokens: %w", err)
	}

	s.emit(ctx, Event{Type: EventLoginSucceeded, UserID: user.ID, Email: user.Email})
	return pair, user, nil
}

// upgradeHash re-hashes a verified password with the current Argon2id
// parameters. bcrypt imports verify at a different cost from the unknown-email
// path, so each one is converted on its first successful login. A failed
// upgrade keeps the old hash and is retried on the next login.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return
	}
	user.PasswordHash = hash
}

// Refresh exchanges a valid refresh token for a new pair.
//
// The presented token is not invalidated: with no revocation store it stays
// usable until it expires.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		return TokenPair{}, ErrMissingToken
	}
	if !s.issuer.Configured() {
		return TokenPair{}, ErrServerMisconfigured
	}

	v := s.issuer.VerifyRefresh(refreshToken)
	if !v.Valid() {
		s.TokenRejected(ctx, TokenRefresh, v)
		return TokenPair{}, fmt.Errorf("%w: %v", v.Err(), v.Reason)
	}

	user, err := s.store.GetByID(ctx, v.Claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		s.emit(ctx, Event{Type: EventTokenRejected, UserID: v.Claims.Subject, Reason: "unknown_subject"})
		return TokenPair{}, ErrInvalidUser
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("looking up user: %w", err)
	}

	pair, err := s.issuer.IssuePair(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issuing tokens: %w", err)
	}

	s.emit(ctx, Event{Type: EventRefreshed, UserID: user.ID, Email: user.Email})
	return pair, nil
}

// User returns the stored identity for id.
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// Issuer returns the token issuer, for the request gate.
func (s *Service) Issuer() *Issuer {
	return s.issuer
}

// TokenRejected records a failed verification of a token of the given class.
func (s *Service) TokenRejected(ctx context.Context, class TokenClass, v Verification) {
	s.emit(ctx, Event{
		Type:   EventTokenRejected,
		Reason: string(class) + "_" + v.Outcome.String(),
	})
}

func (s *Service) emit(ctx context.Context, e Event) {
	e.Source = sourceFrom(ctx)
	e.At = s.now().UTC()
	s.events.Publish(ctx, e)
}
