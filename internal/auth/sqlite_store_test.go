package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestSQLiteUserStore_CreateAndGet(t *testing.T) {
	store := NewSQLiteUserStore(testDB(t))
	ctx := context.Background()

	user := &User{
		Email:        "  Jane.Doe@Example.com ",
		PasswordHash: "$argon2id$placeholder",
		FirstName:    "Jane",
		LastName:     "Doe",
		Role:         RoleRealtor,
	}
	if err := store.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" || user.Profile == nil || user.Profile.UserID != user.ID {
		t.Fatalf("Create() should assign ID and profile, got %+v", user)
	}
	if user.Email != "jane.doe@example.com" {
		t.Errorf("Email = %q, want normalised", user.Email)
	}

	byID, err := store.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.DisplayName != "Jane Doe" {
		t.Errorf("DisplayName = %q, want %q", byID.DisplayName, "Jane Doe")
	}
	if byID.Role != RoleRealtor {
		t.Errorf("Role = %q, want realtor", byID.Role)
	}
	if byID.PasswordHash != user.PasswordHash {
		t.Error("PasswordHash should round-trip")
	}
	if byID.Profile == nil || byID.Profile.ID != user.Profile.ID {
		t.Errorf("Profile = %+v, want %s", byID.Profile, user.Profile.ID)
	}
	if !byID.CreatedAt.Equal(user.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", byID.CreatedAt, user.CreatedAt)
	}

	byEmail, err := store.GetByEmail(ctx, "JANE.DOE@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("GetByEmail() ID = %q, want %q", byEmail.ID, user.ID)
	}
}

func TestSQLiteUserStore_TenantHasNoProfile(t *testing.T) {
	store := NewSQLiteUserStore(testDB(t))
	ctx := context.Background()

	user := &User{Email: "t@x.com", PasswordHash: "h", FirstName: "T", LastName: "N", Role: RoleTenant}
	if err := store.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Profile != nil {
		t.Errorf("tenant Profile = %+v, want nil", got.Profile)
	}
}

func TestSQLiteUserStore_RejectsUnknownRole(t *testing.T) {
	store := NewSQLiteUserStore(testDB(t))

	err := store.Create(context.Background(), &User{Email: "x@x.com", PasswordHash: "h", Role: Role("admin")})
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("Create() error = %v, want ErrUnknownRole", err)
	}
}

func TestSQLiteUserStore_NotFound(t *testing.T) {
	store := NewSQLiteUserStore(testDB(t))
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "usr-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID() error = %v, want ErrUserNotFound", err)
	}
	if _, err := store.GetByEmail(ctx, "nobody@x.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrUserNotFound", err)
	}
}

func TestSQLiteUserStore_UpdatePasswordHash(t *testing.T) {
	store := NewSQLiteUserStore(testDB(t))
	ctx := context.Background()
	user := seedTestUser(t, store, "jane@x.com", "Abcd1234")

	if err := store.UpdatePasswordHash(ctx, user.ID, "$argon2id$replaced"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}
	got, err := store.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.PasswordHash != "$argon2id$replaced" {
		t.Errorf("PasswordHash = %q, want replaced", got.PasswordHash)
	}

	if err := store.UpdatePasswordHash(ctx, "usr-missing", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdatePasswordHash(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestSQLiteUserStore_DuplicateEmail(t *testing.T) {
	db := testDB(t)
	store := NewSQLiteUserStore(db)
	ctx := context.Background()

	seedTestUser(t, store, "a@x.com", "Abcd1234")

	err := store.Create(ctx, &User{Email: "A@X.COM", PasswordHash: "h", FirstName: "B", LastName: "C", Role: RoleRealtor})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("Create() error = %v, want ErrDuplicateEmail", err)
	}

	// The failed registration left no orphaned profile behind.
	var profiles int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM realtor_profiles").Scan(&profiles); err != nil {
		t.Fatalf("counting profiles: %v", err)
	}
	if profiles != 1 {
		t.Errorf("profiles = %d, want 1", profiles)
	}
}

func TestSQLiteUserStore_UniqueIndexBypassingNormalisation(t *testing.T) {
	db := testDB(t)
	store := NewSQLiteUserStore(db)
	ctx := context.Background()

	seedTestUser(t, store, "case@x.com", "Abcd1234")

	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, created_at, updated_at)
		 VALUES ('usr-raw', 'CASE@X.COM', 'h', 'R', 'W', 'realtor', '2026-03-01T09:00:00Z', '2026-03-01T09:00:00Z')`)
	if !isSQLiteUniqueViolation(err) {
		t.Errorf("raw insert error = %v, want unique violation", err)
	}
}

func TestSQLiteUserStore_ConcurrentDuplicateRegistration(t *testing.T) {
	store := NewSQLiteUserStore(testDB(t))
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)

	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Create(ctx, &User{
				Email:        "race@x.com",
				PasswordHash: "h",
				FirstName:    "Racer",
				LastName:     string(rune('A' + i)),
				Role:         RoleRealtor,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicateEmail):
				dupes++
			default:
				t.Errorf("Create() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || dupes != attempts-1 {
		t.Errorf("successes=%d dupes=%d, want 1 and %d", successes, dupes, attempts-1)
	}
}

func TestSQLiteUserStore_CancelledContext(t *testing.T) {
	store := NewSQLiteUserStore(testDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Create(ctx, &User{Email: "c@x.com", PasswordHash: "h", Role: RoleRealtor})
	if err == nil {
		t.Fatal("Create() with cancelled context should fail")
	}

	if _, err := store.GetByEmail(context.Background(), "c@x.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail() after cancelled create error = %v, want ErrUserNotFound", err)
	}
}
