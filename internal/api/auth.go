package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/storekeep/storekeep-core/internal/auth"
	"github.com/storekeep/storekeep-core/internal/infrastructure/metrics"
)

// deviceTokenHeader carries the opaque trusted-device token in both
// directions: request header on login, response header when a new one
// is minted.
const deviceTokenHeader = "X-Device-Token"

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// Login-flow payloads keep the camelCase keys management clients
// already send. Everything outside the login flow speaks snake_case.
type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	TwoFactorToken string `json:"twoFactorToken"`
	BackupCode     string `json:"backupCode"`
	RememberDevice bool   `json:"rememberDevice"`
}

type verifyChallengeRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
	BackupCode  string `json:"backupCode"`
}

type challengeResponse struct {
	Requires2FA bool      `json:"requires2FA"`
	ChallengeID string    `json:"challengeId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type loginResponse struct {
	Message   string     `json:"message"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      *auth.User `json:"user"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleLogin runs one password-first login attempt.
//
// Three outcomes: 200 with a session token (no 2FA, trusted device, or
// correct inline code), 202 with a challenge reference (2FA pending),
// 401 with the uniform credential error.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	inline := req.TwoFactorToken
	if inline == "" {
		inline = req.BackupCode
	}

	result, err := s.auth.Login(r.Context(), auth.LoginInput{
		Email:          req.Email,
		Password:       req.Password,
		TwoFactorToken: inline,
		RememberDevice: req.RememberDevice,
		DeviceToken:    r.Header.Get(deviceTokenHeader),
		Meta:           requestMeta(r),
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.recordLogin(metrics.LoginInvalidCredentials)
		}
		s.writeServiceError(w, r, err)
		return
	}

	if result.Session == nil {
		s.recordLogin(metrics.LoginRequires2FA)
		writeJSON(w, http.StatusAccepted, challengeResponse{
			Requires2FA: true,
			ChallengeID: result.ChallengeID,
			ExpiresAt:   result.ChallengeExpiresAt,
		})
		return
	}

	s.recordLogin(metrics.LoginSuccess)
	s.sessionOpened()
	s.writeLoginSuccess(w, result)
}

// handleVerifyChallenge completes a login paused on its second factor.
// The method metric label follows which field the client sent, not
// which store ultimately matched.
func (s *Server) handleVerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ChallengeID == "" {
		writeBadRequest(w, "challengeId is required")
		return
	}

	code := req.Code
	method := metrics.FactorTOTP
	if code == "" {
		code = req.BackupCode
		method = metrics.FactorBackup
	}
	if code == "" {
		writeBadRequest(w, "code or backupCode is required")
		return
	}

	result, err := s.auth.CompleteChallenge(r.Context(), auth.ChallengeInput{
		ChallengeID: req.ChallengeID,
		Code:        code,
		Meta:        requestMeta(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSecondFactorFailed):
			s.recordLogin(metrics.LoginSecondFactorFailed)
			s.recordSecondFactor(method, false)
		case errors.Is(err, auth.ErrChallengeExpired):
			s.recordLogin(metrics.LoginInvalidCredentials)
		}
		s.writeServiceError(w, r, err)
		return
	}

	s.recordLogin(metrics.LoginSuccess)
	s.recordSecondFactor(method, true)
	s.sessionOpened()
	s.writeLoginSuccess(w, result)
}

// writeLoginSuccess writes the shared 200 shape for both login entry
// points, attaching the device token header when one was minted.
func (s *Server) writeLoginSuccess(w http.ResponseWriter, result *auth.LoginResult) {
	if result.DeviceToken != "" {
		w.Header().Set(deviceTokenHeader, result.DeviceToken)
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Login successful",
		Token:     result.AccessToken,
		ExpiresAt: result.Session.ExpiresAt,
		User:      result.User,
	})
}

// handleLogout revokes the current session. The bearer token stops
// working immediately; there is no client-side-only logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	if err := s.auth.Logout(r.Context(), p, requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.sessionClosed()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// handleMe returns the authenticated user's own account.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	user, err := s.auth.GetUser(r.Context(), p, p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleChangePassword rotates the caller's password. The current
// password is re-verified; sessions survive, trusted devices do not.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeBadRequest(w, "new password must be at least 8 characters")
		return
	}

	if err := s.auth.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}
