package auth

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/storekeep/storekeep-core/internal/audit"
)

// testDB creates a temporary SQLite database with the auth schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	// and so every pooled connection sees the same data.
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE companies (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE stores (
			id         TEXT PRIMARY KEY,
			company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE users (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL UNIQUE,
			password_hash  TEXT NOT NULL,
			role           TEXT NOT NULL,
			company_id     TEXT REFERENCES companies(id) ON DELETE RESTRICT,
			store_id       TEXT REFERENCES stores(id) ON DELETE SET NULL,
			totp_secret    TEXT,
			totp_confirmed INTEGER NOT NULL DEFAULT 0,
			is_active      INTEGER NOT NULL DEFAULT 1,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		) STRICT;

		CREATE TABLE backup_codes (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			code_hash   TEXT NOT NULL,
			consumed_at TEXT,
			created_at  TEXT NOT NULL
		) STRICT;

		CREATE TABLE login_challenges (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			remember_requested INTEGER NOT NULL DEFAULT 0,
			attempts           INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,
			expires_at         TEXT NOT NULL
		) STRICT;

		CREATE TABLE device_tokens (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash   TEXT NOT NULL UNIQUE,
			user_agent   TEXT NOT NULL DEFAULT '',
			issued_at    TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			revoked_at   TEXT,
			last_seen_at TEXT
		) STRICT;

		CREATE TABLE sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			ip         TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			revoked_at TEXT
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying test schema: %v", err)
	}

	return db
}

// seedTestCompany inserts a company row for FK-scoped users.
func seedTestCompany(t *testing.T, db *sql.DB, id, name string) {
	t.Helper()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(
		`INSERT INTO companies (id, name, is_active, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
		id, name, now, now)
	if err != nil {
		t.Fatalf("seeding company %s: %v", id, err)
	}
}

// seedTestStore inserts a store row under a company.
func seedTestStore(t *testing.T, db *sql.DB, id, companyID, name string) {
	t.Helper()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(
		`INSERT INTO stores (id, company_id, name, is_active, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
		id, companyID, name, now, now)
	if err != nil {
		t.Fatalf("seeding store %s: %v", id, err)
	}
}

// testPassword is the password every seeded test user can log in with.
const testPassword = "test-password-123"

// seedTestUser inserts an unscoped test user and returns it.
func seedTestUser(t *testing.T, db *sql.DB, email string, role Role) *User {
	t.Helper()
	return seedScopedUser(t, db, email, role, "", "")
}

// seedScopedUser inserts a test user pinned to a company and optionally
// a store. The referenced rows must already exist.
func seedScopedUser(t *testing.T, db *sql.DB, email string, role Role, companyID, storeID string) *User {
	t.Helper()

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CompanyID:    companyID,
		StoreID:      storeID,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// enrollTestTOTP provisions and confirms a TOTP secret for the user,
// returning the secret so tests can mint valid codes.
func enrollTestTOTP(t *testing.T, db *sql.DB, user *User) string {
	t.Helper()

	secret, _, err := GenerateTOTPSecret("StoreKeep Test", user.Email)
	if err != nil {
		t.Fatalf("generating totp secret: %v", err)
	}

	repo := NewUserRepository(db)
	if err := repo.SetTOTPSecret(context.Background(), user.ID, secret); err != nil {
		t.Fatalf("setting totp secret: %v", err)
	}
	if err := repo.ConfirmTOTP(context.Background(), user.ID); err != nil {
		t.Fatalf("confirming totp: %v", err)
	}

	user.TOTPSecret = secret
	user.TOTPConfirmed = true
	return secret
}

// testServiceConfig returns the policy knobs the service tests run with.
func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		JWTSecret:            "unit-test-signing-secret-0123456789abcdef",
		SessionTTL:           12 * time.Hour,
		ChallengeTTL:         5 * time.Minute,
		ChallengeMaxAttempts: 5,
		DeviceTrustTTL:       30 * 24 * time.Hour,
		BackupCodeCount:      8,
		TOTPIssuer:           "StoreKeep Test",
	}
}

// newTestService wires a Service against real repositories on the test
// database.
func newTestService(t *testing.T, db *sql.DB) *Service {
	t.Helper()

	return NewService(
		testServiceConfig(),
		NewUserRepository(db),
		NewSessionRepository(db),
		NewChallengeRepository(db),
		NewDeviceTokenRepository(db),
		NewBackupCodeRepository(db),
	)
}

// captureAuditor collects recorded entries for assertions.
type captureAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureAuditor) Record(entry audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// byAction returns the recorded entries matching the action.
func (c *captureAuditor) byAction(action audit.Action) []audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []audit.Entry
	for _, e := range c.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
