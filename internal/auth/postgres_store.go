package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nerrad567/keystone-auth/internal/infrastructure/postgres"
)

const pgSelectUser = `
	SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.role,
	       u.created_at, u.updated_at,
	       p.id, p.agency, p.license_number, p.phone, p.created_at, p.updated_at
	FROM users u
	LEFT JOIN realtor_profiles p ON p.user_id = u.id`

// PostgresUserStore implements UserStore on a pgx pool.
// Email uniqueness is enforced by a unique index on lower(email).
type PostgresUserStore struct {
	pool postgres.Pool
	now  func() time.Time
}

// NewPostgresUserStore creates a PostgreSQL-backed user store.
func NewPostgresUserStore(pool postgres.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool, now: time.Now}
}

// Create inserts the user and its profile in one transaction.
func (s *PostgresUserStore) Create(ctx context.Context, user *User) error {
	// Postgres keeps microseconds.
	if err := prepareNew(user, s.now().UTC().Truncate(time.Microsecond)); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	if p := user.Profile; p != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO realtor_profiles (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
			p.ID, p.UserID, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting realtor profile: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing user: %w", err)
	}
	return nil
}

// GetByEmail retrieves a user by email, case-insensitively.
func (s *PostgresUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, pgSelectUser+" WHERE lower(u.email) = $1", NormalizeEmail(email))
}

// GetByID retrieves a user by id.
func (s *PostgresUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, pgSelectUser+" WHERE u.id = $1", id)
}

// UpdatePasswordHash replaces the user's password hash.
func (s *PostgresUserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		hash, s.now().UTC().Truncate(time.Microsecond), id,
	)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresUserStore) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var (
		u                          User
		role                       string
		profileID, agency, license *string
		phone                      *string
		pCreatedAt, pUpdatedAt     *time.Time
	)

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role,
		&u.CreatedAt, &u.UpdatedAt,
		&profileID, &agency, &license, &phone, &pCreatedAt, &pUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if u.Role, err = ParseRole(role); err != nil {
		return nil, fmt.Errorf("scanning user %s: %w", u.ID, err)
	}
	u.DisplayName = displayName(u.FirstName, u.LastName)

	if profileID != nil {
		u.Profile = &RealtorProfile{
			ID:            *profileID,
			UserID:        u.ID,
			Agency:        deref(agency),
			LicenseNumber: deref(license),
			Phone:         deref(phone),
		}
		if pCreatedAt != nil {
			u.Profile.CreatedAt = *pCreatedAt
		}
		if pUpdatedAt != nil {
			u.Profile.UpdatedAt = *pUpdatedAt
		}
	}

	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
