package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// deviceTokenBytes is the entropy of a raw device token (hex-encoded on the wire).
const deviceTokenBytes = 32

// DeviceTokenRepository defines the interface for trusted-device persistence.
//
// Only SHA-256 hashes are stored; the raw value exists once, in the
// response header that delivers it to the device.
type DeviceTokenRepository interface {
	Create(ctx context.Context, token *DeviceToken) error
	GetByHash(ctx context.Context, tokenHash string) (*DeviceToken, error)
	TouchLastSeen(ctx context.Context, id string) error
	Revoke(ctx context.Context, id, userID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	ListActiveByUser(ctx context.Context, userID string) ([]DeviceToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteDeviceTokenRepository implements DeviceTokenRepository using SQLite.
type SQLiteDeviceTokenRepository struct {
	db *sql.DB
}

// NewDeviceTokenRepository creates a new SQLite-backed device token repository.
func NewDeviceTokenRepository(db *sql.DB) *SQLiteDeviceTokenRepository {
	return &SQLiteDeviceTokenRepository{db: db}
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored — only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// GenerateDeviceToken returns a new high-entropy raw device token.
func GenerateDeviceToken() (string, error) {
	buf := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating device token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create inserts a new device token record. The ID is generated if empty.
// Issuance is additive: existing live tokens for the subject stay valid.
func (r *SQLiteDeviceTokenRepository) Create(ctx context.Context, token *DeviceToken) error {
	if token.ID == "" {
		token.ID = "dev-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	token.IssuedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_tokens (id, user_id, token_hash, user_agent, issued_at, expires_at, revoked_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, NULL)`,
		token.ID, token.UserID, token.TokenHash, token.UserAgent,
		now, token.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating device token: %w", err)
	}

	return nil
}

// GetByHash retrieves a device token by its SHA-256 hash.
// Unknown hashes map to ErrDeviceTokenInvalid.
func (r *SQLiteDeviceTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*DeviceToken, error) {
	var t DeviceToken
	var revokedAt, lastSeenAt sql.NullString
	var issuedAt, expiresAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, user_agent, issued_at, expires_at, revoked_at, last_seen_at
		 FROM device_tokens WHERE token_hash = ?`, tokenHash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.UserAgent,
		&issuedAt, &expiresAt, &revokedAt, &lastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceTokenInvalid
		}
		return nil, fmt.Errorf("getting device token: %w", err)
	}

	t.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)   //nolint:errcheck // format is controlled
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	if revokedAt.Valid {
		ts, _ := time.Parse(time.RFC3339, revokedAt.String) //nolint:errcheck // format is controlled
		t.RevokedAt = &ts
	}
	if lastSeenAt.Valid {
		ts, _ := time.Parse(time.RFC3339, lastSeenAt.String) //nolint:errcheck // format is controlled
		t.LastSeenAt = &ts
	}

	return &t, nil
}

// TouchLastSeen records that the token was presented. Expiry is never
// extended: the validity window is fixed at issuance.
func (r *SQLiteDeviceTokenRepository) TouchLastSeen(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		"UPDATE device_tokens SET last_seen_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("touching device token: %w", err)
	}
	return nil
}

// Revoke marks a single device token as revoked. The userID guard limits
// callers to their own tokens; admin paths use RevokeAllForUser.
func (r *SQLiteDeviceTokenRepository) Revoke(ctx context.Context, id, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"UPDATE device_tokens SET revoked_at = ? WHERE id = ? AND user_id = ? AND revoked_at IS NULL",
		now, id, userID)
	if err != nil {
		return fmt.Errorf("revoking device token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrDeviceTokenInvalid
	}
	return nil
}

// RevokeAllForUser marks every live device token for a subject as revoked.
// Used on password change and admin force-revocation.
func (r *SQLiteDeviceTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		"UPDATE device_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL",
		now, userID)
	if err != nil {
		return fmt.Errorf("revoking all device tokens for user: %w", err)
	}
	return nil
}

// ListActiveByUser returns all unrevoked, unexpired tokens for a subject.
func (r *SQLiteDeviceTokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]DeviceToken, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token_hash, user_agent, issued_at, expires_at, revoked_at, last_seen_at
		 FROM device_tokens
		 WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		 ORDER BY issued_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []DeviceToken
	for rows.Next() {
		var t DeviceToken
		var revokedAt, lastSeenAt sql.NullString
		var issuedAt, expiresAt string

		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.UserAgent,
			&issuedAt, &expiresAt, &revokedAt, &lastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning device token: %w", err)
		}

		t.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)   //nolint:errcheck // format is controlled
		t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
		if revokedAt.Valid {
			ts, _ := time.Parse(time.RFC3339, revokedAt.String) //nolint:errcheck // format is controlled
			t.RevokedAt = &ts
		}
		if lastSeenAt.Valid {
			ts, _ := time.Parse(time.RFC3339, lastSeenAt.String) //nolint:errcheck // format is controlled
			t.LastSeenAt = &ts
		}

		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device tokens: %w", err)
	}

	if tokens == nil {
		tokens = []DeviceToken{}
	}
	return tokens, nil
}

// DeleteExpired removes tokens past their validity window, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteDeviceTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired device tokens: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
