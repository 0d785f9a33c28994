package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const sqliteSelectUser = `
	SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.role,
	       u.created_at, u.updated_at,
	       p.id, p.agency, p.license_number, p.phone, p.created_at, p.updated_at
	FROM users u
	LEFT JOIN realtor_profiles p ON p.user_id = u.id`

// SQLiteUserStore implements UserStore using SQLite.
type SQLiteUserStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteUserStore creates a SQLite-backed user store. The schema comes from
// the embedded migrations.
func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db, now: time.Now}
}

// Create inserts the user and its profile in one transaction.
func (s *SQLiteUserStore) Create(ctx context.Context, user *User) error {
	// Stored as RFC3339, so drop sub-second precision up front.
	if err := prepareNew(user, s.now().UTC().Truncate(time.Second)); err != nil {
		return err
	}
	ts := user.CreatedAt.Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		string(user.Role), ts, ts,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	if p := user.Profile; p != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO realtor_profiles (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			p.ID, p.UserID, ts, ts,
		); err != nil {
			return fmt.Errorf("inserting realtor profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("committing user: %w", err)
	}
	return nil
}

// GetByEmail retrieves a user by email. The lookup is case-insensitive.
func (s *SQLiteUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, sqliteSelectUser+" WHERE u.email = ?", NormalizeEmail(email))
}

// GetByID retrieves a user by id.
func (s *SQLiteUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, sqliteSelectUser+" WHERE u.id = ?", id)
}

// UpdatePasswordHash replaces the user's password hash.
func (s *SQLiteUserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, s.now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLiteUserStore) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var (
		u                             User
		role, createdAt, updatedAt    string
		profileID, agency, license    sql.NullString
		phone, pCreatedAt, pUpdatedAt sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role,
		&createdAt, &updatedAt,
		&profileID, &agency, &license, &phone, &pCreatedAt, &pUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if u.Role, err = ParseRole(role); err != nil {
		return nil, fmt.Errorf("scanning user %s: %w", u.ID, err)
	}
	u.DisplayName = displayName(u.FirstName, u.LastName)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	if profileID.Valid {
		u.Profile = &RealtorProfile{
			ID:            profileID.String,
			UserID:        u.ID,
			Agency:        agency.String,
			LicenseNumber: license.String,
			Phone:         phone.String,
		}
		u.Profile.CreatedAt, _ = time.Parse(time.RFC3339, pCreatedAt.String) //nolint:errcheck // format is controlled
		u.Profile.UpdatedAt, _ = time.Parse(time.RFC3339, pUpdatedAt.String) //nolint:errcheck // format is controlled
	}

	return &u, nil
}

// isSQLiteUniqueViolation reports whether err is a UNIQUE constraint failure.
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
