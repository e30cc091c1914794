package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChallengeRepository defines the interface for pending 2FA challenge
// persistence.
//
// A challenge is single use. Consume deletes the row atomically, so of
// two concurrent verifications for the same challenge ID exactly one
// can win. Unknown and expired challenges are indistinguishable to
// callers: both surface as ErrChallengeExpired.
type ChallengeRepository interface {
	Create(ctx context.Context, challenge *PendingChallenge) error
	GetByID(ctx context.Context, id string) (*PendingChallenge, error)
	Consume(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteChallengeRepository implements ChallengeRepository using SQLite.
type SQLiteChallengeRepository struct {
	db *sql.DB
}

// NewChallengeRepository creates a new SQLite-backed challenge repository.
func NewChallengeRepository(db *sql.DB) *SQLiteChallengeRepository {
	return &SQLiteChallengeRepository{db: db}
}

// Create inserts a new pending challenge. The ID doubles as the opaque
// reference handed to the client, so it is a full UUID rather than a
// short fragment.
func (r *SQLiteChallengeRepository) Create(ctx context.Context, challenge *PendingChallenge) error {
	if challenge.ID == "" {
		challenge.ID = "chl-" + uuid.NewString()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	challenge.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_challenges (id, user_id, remember_requested, attempts, created_at, expires_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		challenge.ID, challenge.UserID, boolToInt(challenge.RememberRequested),
		now, challenge.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating challenge: %w", err)
	}

	return nil
}

// GetByID retrieves a pending challenge. Unknown IDs map to
// ErrChallengeExpired; the stored expires_at is returned as-is and
// checked by the caller, so the TTL decision stays in one place.
func (r *SQLiteChallengeRepository) GetByID(ctx context.Context, id string) (*PendingChallenge, error) {
	var c PendingChallenge
	var rememberRequested int
	var createdAt, expiresAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, remember_requested, attempts, created_at, expires_at
		 FROM login_challenges WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &rememberRequested, &c.Attempts, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChallengeExpired
		}
		return nil, fmt.Errorf("getting challenge: %w", err)
	}

	c.RememberRequested = rememberRequested != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	c.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled

	return &c, nil
}

// Consume deletes the challenge, enforcing single use. A zero row count
// means another request consumed it first (or it never existed) and
// surfaces as ErrChallengeExpired.
func (r *SQLiteChallengeRepository) Consume(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM login_challenges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrChallengeExpired
	}
	return nil
}

// RecordFailure increments the attempt counter and returns the new count.
func (r *SQLiteChallengeRepository) RecordFailure(ctx context.Context, id string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE login_challenges SET attempts = attempts + 1 WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("recording challenge failure: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return 0, ErrChallengeExpired
	}

	var attempts int
	if err := r.db.QueryRowContext(ctx,
		"SELECT attempts FROM login_challenges WHERE id = ?", id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("reading challenge attempts: %w", err)
	}
	return attempts, nil
}

// Delete removes a challenge without the single-use error mapping.
// Used when invalidating a challenge after too many failures.
func (r *SQLiteChallengeRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM login_challenges WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}

// DeleteExpired removes challenges past their TTL, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteChallengeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM login_challenges WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
