package auth

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(8)
	if err != nil {
		t.Fatalf("GenerateBackupCodes() error = %v", err)
	}
	if len(codes) != 8 {
		t.Fatalf("code count: got %d, want 8", len(codes))
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		if len(code) != backupCodeLength {
			t.Errorf("code length: got %d, want %d", len(code), backupCodeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(backupCodeAlphabet, c) {
				t.Errorf("code %q contains %q outside the alphabet", code, c)
			}
		}
		if seen[code] {
			t.Errorf("duplicate code generated: %q", code)
		}
		seen[code] = true
	}
}

func TestBackupCodeConsumeSingleUse(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	repo := NewBackupCodeRepository(db)
	ctx := context.Background()

	codes, err := GenerateBackupCodes(8)
	if err != nil {
		t.Fatalf("GenerateBackupCodes() error = %v", err)
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = HashToken(code)
	}
	if err := repo.Replace(ctx, user.ID, hashes); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if err := repo.Consume(ctx, user.ID, hashes[0]); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	// Second use of the same code must fail.
	if err := repo.Consume(ctx, user.ID, hashes[0]); err != ErrSecondFactorFailed {
		t.Errorf("second consume: got %v, want ErrSecondFactorFailed", err)
	}

	remaining, err := repo.CountRemaining(ctx, user.ID)
	if err != nil {
		t.Fatalf("CountRemaining: %v", err)
	}
	if remaining != 7 {
		t.Errorf("remaining codes: got %d, want 7", remaining)
	}
}

func TestBackupCodeConsumeWrongUser(t *testing.T) {
	db := testDB(t)
	owner := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	other := seedTestUser(t, db, "other@example.com", RoleManager)
	repo := NewBackupCodeRepository(db)
	ctx := context.Background()

	hash := HashToken("ABCDEFGHJK")
	if err := repo.Replace(ctx, owner.ID, []string{hash}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	// A code belongs to one subject; another user's consume finds nothing.
	if err := repo.Consume(ctx, other.ID, hash); err != ErrSecondFactorFailed {
		t.Errorf("cross-user consume: got %v, want ErrSecondFactorFailed", err)
	}
	if err := repo.Consume(ctx, owner.ID, hash); err != nil {
		t.Errorf("owner consume should succeed: %v", err)
	}
}

func TestBackupCodeReplaceInvalidatesOldSet(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	repo := NewBackupCodeRepository(db)
	ctx := context.Background()

	oldHash := HashToken("OLDCODE234")
	if err := repo.Replace(ctx, user.ID, []string{oldHash}); err != nil {
		t.Fatalf("first Replace: %v", err)
	}

	newHashes := []string{HashToken("NEWCODE234"), HashToken("NEWCODE567")}
	if err := repo.Replace(ctx, user.ID, newHashes); err != nil {
		t.Fatalf("second Replace: %v", err)
	}

	if err := repo.Consume(ctx, user.ID, oldHash); err != ErrSecondFactorFailed {
		t.Errorf("old code after regeneration: got %v, want ErrSecondFactorFailed", err)
	}

	remaining, err := repo.CountRemaining(ctx, user.ID)
	if err != nil {
		t.Fatalf("CountRemaining: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining codes: got %d, want 2", remaining)
	}
}

func TestBackupCodeDeleteForUser(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	repo := NewBackupCodeRepository(db)
	ctx := context.Background()

	if err := repo.Replace(ctx, user.ID, []string{HashToken("SOMECODE23")}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := repo.DeleteForUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteForUser: %v", err)
	}

	remaining, err := repo.CountRemaining(ctx, user.ID)
	if err != nil {
		t.Fatalf("CountRemaining: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining codes after delete: got %d, want 0", remaining)
	}
}
