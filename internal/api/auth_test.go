package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/storekeep/storekeep-core/internal/audit"
	"github.com/storekeep/storekeep-core/internal/auth"
)

// wrongTOTPCode returns a six-digit code that cannot verify for the
// secret in the accepted window (previous, current, next step).
func wrongTOTPCode(t *testing.T, secret string) string {
	t.Helper()

	now := time.Now()
	used := map[string]bool{}
	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.GenerateCode(secret, now.Add(offset))
		if err != nil {
			t.Fatalf("generating totp code: %v", err)
		}
		used[code] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !used[candidate] {
			return candidate
		}
	}
	t.Fatal("no unused candidate code")
	return ""
}

func TestLogin_PasswordOnly(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env, "clerk@example.com", auth.RoleManager, "", "")

	rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    "clerk@example.com",
		"password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message   string    `json:"message"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
		User      struct {
			Email            string `json:"email"`
			TwoFactorEnabled bool   `json:"two_factor_enabled"`
		} `json:"user"`
	}
	decodeBody(t, rec, &resp)

	if resp.Message != "Login successful" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Token == "" {
		t.Error("token missing from login response")
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Errorf("expiresAt %v not in the future", resp.ExpiresAt)
	}
	if resp.User.Email != "clerk@example.com" {
		t.Errorf("user email = %q", resp.User.Email)
	}
	if resp.User.TwoFactorEnabled {
		t.Error("user unexpectedly reports 2FA enabled")
	}
	if strings.Contains(rec.Body.String(), "password_hash") {
		t.Error("login response leaks password_hash")
	}

	// The token works against the authenticated surface.
	me := doRequest(t, env, http.MethodGet, "/api/v1/auth/me", resp.Token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("GET /auth/me status = %d, body %s", me.Code, me.Body.String())
	}
}

func TestLogin_UniformInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env, "known@example.com", auth.RoleManager, "", "")

	inactive := seedUser(t, env, "inactive@example.com", auth.RoleManager, "", "")
	inactive.IsActive = false
	if err := auth.NewUserRepository(env.db.DB).Update(context.Background(), inactive); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "nobody@example.com", testPassword},
		{"wrong password", user.Email, "not-the-password"},
		{"inactive account", inactive.Email, testPassword},
	}

	var bodies []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
				"email":    tc.email,
				"password": tc.password,
			})
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if code := errorCode(t, rec); code != ErrCodeInvalidCredentials {
				t.Errorf("error code = %q", code)
			}
			bodies = append(bodies, rec.Body.String())
		})
	}

	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("response bodies differ between failure modes:\n%s\nvs\n%s", bodies[0], bodies[i])
		}
	}
}

func TestLogin_TwoFactorFlow(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env, "owner@example.com", auth.RoleManager, "", "")
	secret := enrollTOTP(t, env, user)

	// Password alone parks the login on a challenge.
	rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    user.Email,
		"password": testPassword,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	var pending struct {
		Requires2FA bool      `json:"requires2FA"`
		ChallengeID string    `json:"challengeId"`
		ExpiresAt   time.Time `json:"expiresAt"`
	}
	decodeBody(t, rec, &pending)
	if !pending.Requires2FA {
		t.Error("requires2FA = false")
	}
	if !strings.HasPrefix(pending.ChallengeID, "chl-") {
		t.Errorf("challengeId = %q, want chl- prefix", pending.ChallengeID)
	}
	if pending.ExpiresAt.Before(time.Now()) || pending.ExpiresAt.After(time.Now().Add(6*time.Minute)) {
		t.Errorf("challenge expiry %v outside the 5 minute window", pending.ExpiresAt)
	}

	// A wrong code leaves the challenge pending.
	bad := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
		"challengeId": pending.ChallengeID,
		"code":        wrongTOTPCode(t, secret),
	})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code status = %d, want 401", bad.Code)
	}
	if code := errorCode(t, bad); code != ErrCodeInvalidFactor {
		t.Errorf("wrong code error = %q", code)
	}

	// The correct code completes the same challenge.
	good := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
		"challengeId": pending.ChallengeID,
		"code":        totpCode(t, secret),
	})
	if good.Code != http.StatusOK {
		t.Fatalf("correct code status = %d, body %s", good.Code, good.Body.String())
	}

	var success struct {
		Token string `json:"token"`
	}
	decodeBody(t, good, &success)
	if success.Token == "" {
		t.Fatal("token missing after challenge completion")
	}

	me := doRequest(t, env, http.MethodGet, "/api/v1/auth/me", success.Token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("GET /auth/me status = %d", me.Code)
	}

	// Exactly one successful login lands in the audit trail; the wrong
	// code shows up as a second-factor failure.
	env.flushAudit()
	logins := auditByAction(t, env, audit.ActionUserLogin)
	if len(logins) != 1 {
		t.Fatalf("user_login entries = %d, want 1", len(logins))
	}
	if logins[0].EntityID != user.ID {
		t.Errorf("login entry entity = %q, want %q", logins[0].EntityID, user.ID)
	}

	failures := auditByAction(t, env, audit.ActionUserLoginFailed)
	if len(failures) != 1 {
		t.Fatalf("user_login_failed entries = %d, want 1", len(failures))
	}
	if stage := failures[0].Metadata["stage"]; stage != "second_factor" {
		t.Errorf("failure stage = %v, want second_factor", stage)
	}
}

func TestLogin_InlineSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env, "inline@example.com", auth.RoleManager, "", "")
	secret := enrollTOTP(t, env, user)

	t.Run("correct inline code logs straight in", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":          user.Email,
			"password":       testPassword,
			"twoFactorToken": totpCode(t, secret),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("wrong inline code falls back to the challenge", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":          user.Email,
			"password":       testPassword,
			"twoFactorToken": wrongTOTPCode(t, secret),
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
		}

		var pending struct {
			ChallengeID string `json:"challengeId"`
		}
		decodeBody(t, rec, &pending)
		if pending.ChallengeID == "" {
			t.Fatal("challengeId missing; wrong inline code should leave the challenge pending")
		}

		// The fresh challenge still completes with the right code.
		good := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
			"challengeId": pending.ChallengeID,
			"code":        totpCode(t, secret),
		})
		if good.Code != http.StatusOK {
			t.Fatalf("verify status = %d, body %s", good.Code, good.Body.String())
		}
	})
}

func TestLogin_RememberDevice(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env, "remember@example.com", auth.RoleManager, "", "")
	secret := enrollTOTP(t, env, user)

	rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":          user.Email,
		"password":       testPassword,
		"rememberDevice": true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var pending struct {
		ChallengeID string `json:"challengeId"`
	}
	decodeBody(t, rec, &pending)

	good := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
		"challengeId": pending.ChallengeID,
		"code":        totpCode(t, secret),
	})
	if good.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", good.Code, good.Body.String())
	}

	deviceToken := good.Header().Get(deviceTokenHeader)
	if deviceToken == "" {
		t.Fatal("X-Device-Token header missing after remembered login")
	}

	// The trusted device skips the second factor entirely.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"remember@example.com","password":"`+testPassword+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(deviceTokenHeader, deviceToken)
	direct := httptest.NewRecorder()
	env.router.ServeHTTP(direct, req)

	if direct.Code != http.StatusOK {
		t.Fatalf("trusted device login status = %d, want 200, body %s", direct.Code, direct.Body.String())
	}
	if direct.Header().Get(deviceTokenHeader) != "" {
		t.Error("trusted device login minted a fresh device token")
	}
}

func TestVerifyChallenge_AttemptCap(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env, "capped@example.com", auth.RoleManager, "", "")
	secret := enrollTOTP(t, env, user)

	rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    user.Email,
		"password": testPassword,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("login status = %d, want 202", rec.Code)
	}
	var pending struct {
		ChallengeID string `json:"challengeId"`
	}
	decodeBody(t, rec, &pending)

	wrong := wrongTOTPCode(t, secret)

	// Attempts below the cap report a bad factor and keep the challenge.
	for i := 1; i < 5; i++ {
		attempt := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
			"challengeId": pending.ChallengeID,
			"code":        wrong,
		})
		if attempt.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, attempt.Code)
		}
		if code := errorCode(t, attempt); code != ErrCodeInvalidFactor {
			t.Fatalf("attempt %d error = %q, want %q", i, code, ErrCodeInvalidFactor)
		}
	}

	// The fifth failure burns the challenge; the response degrades to
	// the generic credential error.
	fifth := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
		"challengeId": pending.ChallengeID,
		"code":        wrong,
	})
	if fifth.Code != http.StatusUnauthorized {
		t.Fatalf("fifth attempt status = %d, want 401", fifth.Code)
	}
	if code := errorCode(t, fifth); code != ErrCodeInvalidCredentials {
		t.Errorf("fifth attempt error = %q, want %q", code, ErrCodeInvalidCredentials)
	}

	// Even the correct code is refused once the challenge is gone.
	late := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
		"challengeId": pending.ChallengeID,
		"code":        totpCode(t, secret),
	})
	if late.Code != http.StatusUnauthorized {
		t.Fatalf("late attempt status = %d, want 401", late.Code)
	}
	if code := errorCode(t, late); code != ErrCodeInvalidCredentials {
		t.Errorf("late attempt error = %q, want %q", code, ErrCodeInvalidCredentials)
	}
}

func TestVerifyChallenge_UnknownChallenge(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/2fa/verify", "", map[string]any{
		"challengeId": "chl-does-not-exist",
		"code":        "123456",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != ErrCodeInvalidCredentials {
		t.Errorf("error code = %q, want the generic credential error", code)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env, "leaver@example.com", auth.RoleManager, "", "")
	token := loginAs(t, env, "leaver@example.com")

	me := doRequest(t, env, http.MethodGet, "/api/v1/auth/me", token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("pre-logout /auth/me status = %d", me.Code)
	}

	out := doRequest(t, env, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if out.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body %s", out.Code, out.Body.String())
	}
	var resp map[string]string
	decodeBody(t, out, &resp)
	if resp["message"] != "Logged out" {
		t.Errorf("logout message = %q", resp["message"])
	}

	// The token dies with the session row, not with the JWT expiry.
	after := doRequest(t, env, http.MethodGet, "/api/v1/auth/me", token, nil)
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout /auth/me status = %d, want 401", after.Code)
	}
	if code := errorCode(t, after); code != ErrCodeUnauthorized {
		t.Errorf("post-logout error = %q", code)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env, "rotate@example.com", auth.RoleManager, "", "")
	token := loginAs(t, env, "rotate@example.com")

	t.Run("wrong current password", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/password", token, map[string]any{
			"current_password": "not-the-password",
			"new_password":     "replacement-password-9",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("new password too short", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/password", token, map[string]any{
			"current_password": testPassword,
			"new_password":     "short",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("successful rotation", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/auth/password", token, map[string]any{
			"current_password": testPassword,
			"new_password":     "replacement-password-9",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}

		// The session survives the rotation.
		me := doRequest(t, env, http.MethodGet, "/api/v1/auth/me", token, nil)
		if me.Code != http.StatusOK {
			t.Errorf("session dropped by password change, /auth/me = %d", me.Code)
		}

		// The old password is dead, the new one works.
		old := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":    "rotate@example.com",
			"password": testPassword,
		})
		if old.Code != http.StatusUnauthorized {
			t.Errorf("old password still accepted, status = %d", old.Code)
		}
		fresh := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":    "rotate@example.com",
			"password": "replacement-password-9",
		})
		if fresh.Code != http.StatusOK {
			t.Errorf("new password rejected, status = %d, body %s", fresh.Code, fresh.Body.String())
		}
	})
}
