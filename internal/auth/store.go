package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserStore persists identities. Implementations enforce email uniqueness
// with a unique index so concurrent registrations cannot both succeed.
type UserStore interface {
	// Create inserts the user and, for realtors, an empty profile in a single
	// transaction. It fills in ID, timestamps and Profile, and returns
	// ErrDuplicateEmail when the email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByEmail returns ErrUserNotFound when no user has the email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID returns ErrUserNotFound when no user has the id.
	GetByID(ctx context.Context, id string) (*User, error)

	// UpdatePasswordHash replaces the stored hash, returning ErrUserNotFound
	// when no user has the id.
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

func newUserID() string {
	return "usr-" + uuid.NewString()
}

func newProfileID() string {
	return "rpf-" + uuid.NewString()
}

// prepareNew fills in the fields a store assigns on insert.
func prepareNew(user *User, now time.Time) error {
	if !user.Role.Valid() {
		return fmt.Errorf("creating user: %w: %q", ErrUnknownRole, user.Role)
	}
	if user.ID == "" {
		user.ID = newUserID()
	}
	user.Email = NormalizeEmail(user.Email)
	user.DisplayName = displayName(user.FirstName, user.LastName)
	user.CreatedAt = now
	user.UpdatedAt = now

	user.Profile = nil
	if user.Role == RoleRealtor {
		user.Profile = &RealtorProfile{
			ID:        newProfileID(),
			UserID:    user.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return nil
}
