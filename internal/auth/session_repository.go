package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRepository defines the interface for server-side session persistence.
//
// Session rows are the authority for authentication state: the bearer
// middleware re-reads the row on every request, so revocation takes
// effect immediately rather than at token expiry.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Create inserts a new session. The ID is generated if empty.
func (r *SQLiteSessionRepository) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = "ses-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	session.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, ip, user_agent, created_at, expires_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		session.ID, session.UserID, session.IP, session.UserAgent,
		now, session.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID.
// Unknown IDs map to ErrSessionInvalid.
func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	var s Session
	var revokedAt sql.NullString
	var createdAt, expiresAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, ip, user_agent, created_at, expires_at, revoked_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.IP, &s.UserAgent, &createdAt, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	s.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	if revokedAt.Valid {
		ts, _ := time.Parse(time.RFC3339, revokedAt.String) //nolint:errcheck // format is controlled
		s.RevokedAt = &ts
	}

	return &s, nil
}

// Revoke marks a session as revoked. Idempotent: revoking twice is not
// an error, the first timestamp wins.
func (r *SQLiteSessionRepository) Revoke(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL", now, id)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeAllForUser marks all live sessions for a user as revoked.
// Used on password change and admin force-logout.
func (r *SQLiteSessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL", now, userID)
	if err != nil {
		return fmt.Errorf("revoking all sessions for user: %w", err)
	}
	return nil
}

// CountActiveByUser returns the number of live sessions for a user.
// Concurrent sessions are allowed; this exists for operator visibility.
func (r *SQLiteSessionRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?",
		userID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return count, nil
}

// DeleteExpired removes sessions past their expiry, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
