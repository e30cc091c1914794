package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// backupCodeLength is the number of characters in a backup code.
	backupCodeLength = 10

	// backupCodeAlphabet avoids visually ambiguous characters so codes
	// survive being read off a printout.
	backupCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"
)

// BackupCodeRepository defines the interface for 2FA backup code
// persistence. Only SHA-256 hashes are stored; the plaintext codes are
// shown to the user once at generation time.
type BackupCodeRepository interface {
	Replace(ctx context.Context, userID string, codeHashes []string) error
	Consume(ctx context.Context, userID, codeHash string) error
	CountRemaining(ctx context.Context, userID string) (int, error)
	DeleteForUser(ctx context.Context, userID string) error
}

// SQLiteBackupCodeRepository implements BackupCodeRepository using SQLite.
type SQLiteBackupCodeRepository struct {
	db *sql.DB
}

// NewBackupCodeRepository creates a new SQLite-backed backup code repository.
func NewBackupCodeRepository(db *sql.DB) *SQLiteBackupCodeRepository {
	return &SQLiteBackupCodeRepository{db: db}
}

// GenerateBackupCodes returns n fresh plaintext codes. Each code is
// drawn from crypto/rand over the restricted alphabet.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	max := big.NewInt(int64(len(backupCodeAlphabet)))

	for i := 0; i < n; i++ {
		var b strings.Builder
		b.Grow(backupCodeLength)
		for j := 0; j < backupCodeLength; j++ {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("generating backup code: %w", err)
			}
			b.WriteByte(backupCodeAlphabet[idx.Int64()])
		}
		codes = append(codes, b.String())
	}

	return codes, nil
}

// Replace swaps the user's backup codes for a new set in one
// transaction. Regeneration invalidates every previous code, consumed
// or not.
func (r *SQLiteBackupCodeRepository) Replace(ctx context.Context, userID string, codeHashes []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning backup code replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM backup_codes WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing backup codes: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, hash := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (id, user_id, code_hash, created_at)
			 VALUES (?, ?, ?, ?)`,
			"bkc-"+uuid.NewString()[:16], userID, hash, now); err != nil {
			return fmt.Errorf("inserting backup code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing backup code replace: %w", err)
	}
	return nil
}

// Consume marks a code as used. The guarded UPDATE only matches
// unconsumed rows, so a second use of the same code finds nothing and
// fails with ErrSecondFactorFailed.
func (r *SQLiteBackupCodeRepository) Consume(ctx context.Context, userID, codeHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE backup_codes SET consumed_at = ?
		 WHERE user_id = ? AND code_hash = ? AND consumed_at IS NULL`,
		now, userID, codeHash)
	if err != nil {
		return fmt.Errorf("consuming backup code: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrSecondFactorFailed
	}
	return nil
}

// CountRemaining returns how many unconsumed codes the user has left.
func (r *SQLiteBackupCodeRepository) CountRemaining(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM backup_codes WHERE user_id = ? AND consumed_at IS NULL",
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting backup codes: %w", err)
	}
	return count, nil
}

// DeleteForUser removes all of the user's codes. Called when 2FA is
// disabled.
func (r *SQLiteBackupCodeRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM backup_codes WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("deleting backup codes: %w", err)
	}
	return nil
}
