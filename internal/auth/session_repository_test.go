package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func seedSession(t *testing.T, repo SessionRepository, userID string, ttl time.Duration) *Session {
	t.Helper()

	session := &Session{
		UserID:    userID,
		IP:        "203.0.113.10",
		UserAgent: "test-agent",
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	return session
}

func TestSessionCreateAndGet(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	repo := NewSessionRepository(db)

	session := seedSession(t, repo, user.ID, time.Hour)
	if !strings.HasPrefix(session.ID, "ses-") {
		t.Errorf("session ID: got %q, want ses- prefix", session.ID)
	}

	got, err := repo.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("user ID: got %q, want %q", got.UserID, user.ID)
	}
	if got.IP != "203.0.113.10" {
		t.Errorf("IP: got %q, want %q", got.IP, "203.0.113.10")
	}
	if !got.Live(time.Now().UTC()) {
		t.Error("fresh session should be live")
	}
}

func TestSessionGetUnknown(t *testing.T) {
	db := testDB(t)
	repo := NewSessionRepository(db)

	_, err := repo.GetByID(context.Background(), "ses-nope")
	if err != ErrSessionInvalid {
		t.Errorf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestSessionRevoke(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	repo := NewSessionRepository(db)

	session := seedSession(t, repo, user.ID, time.Hour)

	if err := repo.Revoke(context.Background(), session.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	got, err := repo.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID after revoke: %v", err)
	}
	if got.RevokedAt == nil {
		t.Fatal("revoked_at should be set")
	}
	if got.Live(time.Now().UTC()) {
		t.Error("revoked session should not be live")
	}
	first := *got.RevokedAt

	// Idempotent: a second revoke keeps the first timestamp.
	if err := repo.Revoke(context.Background(), session.ID); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	again, err := repo.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID after second revoke: %v", err)
	}
	if !again.RevokedAt.Equal(first) {
		t.Errorf("revoked_at changed on second revoke: %v vs %v", again.RevokedAt, first)
	}
}

func TestSessionRevokeAllForUser(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	other := seedTestUser(t, db, "other@example.com", RoleManager)
	repo := NewSessionRepository(db)

	seedSession(t, repo, user.ID, time.Hour)
	seedSession(t, repo, user.ID, time.Hour)
	keep := seedSession(t, repo, other.ID, time.Hour)

	if err := repo.RevokeAllForUser(context.Background(), user.ID); err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}

	count, err := repo.CountActiveByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CountActiveByUser: %v", err)
	}
	if count != 0 {
		t.Errorf("active sessions after revoke-all: got %d, want 0", count)
	}

	// Other users' sessions are untouched.
	got, err := repo.GetByID(context.Background(), keep.ID)
	if err != nil {
		t.Fatalf("GetByID other user: %v", err)
	}
	if !got.Live(time.Now().UTC()) {
		t.Error("other user's session should stay live")
	}
}

func TestSessionLiveExpiry(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	repo := NewSessionRepository(db)

	expired := seedSession(t, repo, user.ID, -time.Minute)

	got, err := repo.GetByID(context.Background(), expired.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	// The row still exists; liveness is a property of the timestamps.
	if got.Live(time.Now().UTC()) {
		t.Error("expired session should not be live")
	}

	count, err := repo.CountActiveByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CountActiveByUser: %v", err)
	}
	if count != 0 {
		t.Errorf("expired session counted as active: got %d", count)
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "owner@example.com", RoleStoreOwner)
	repo := NewSessionRepository(db)

	stale := seedSession(t, repo, user.ID, -time.Minute)
	live := seedSession(t, repo, user.ID, time.Hour)

	n, err := repo.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted rows: got %d, want 1", n)
	}

	if _, err := repo.GetByID(context.Background(), stale.ID); err != ErrSessionInvalid {
		t.Errorf("stale session should be gone, got %v", err)
	}
	if _, err := repo.GetByID(context.Background(), live.ID); err != nil {
		t.Errorf("live session should survive the sweep: %v", err)
	}
}
