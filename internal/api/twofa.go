package api

import (
	"encoding/json"
	"net/http"
)

type confirmTwoFactorRequest struct {
	Code string `json:"code"`
}

type disableTwoFactorRequest struct {
	Password string `json:"password"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// handleTwoFactorSetup starts TOTP enrollment for the caller. The
// secret is provisional until confirmed; repeating setup replaces it.
func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	enrollment, err := s.auth.BeginTOTPEnrollment(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, enrollment)
}

// handleTwoFactorConfirm proves authenticator possession with a live
// code and activates enrollment. The backup codes in the response are
// the only time the plaintext codes are ever shown.
func (s *Server) handleTwoFactorConfirm(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req confirmTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	codes, err := s.auth.ConfirmTOTPEnrollment(r.Context(), p, req.Code, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

// handleRegenerateBackupCodes replaces the caller's backup codes with a
// fresh set, invalidating any unused ones.
func (s *Server) handleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	codes, err := s.auth.RegenerateBackupCodes(r.Context(), p, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

// handleTwoFactorDisable turns off 2FA for the caller. The password is
// re-verified so a hijacked session can't silently weaken the account.
func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req disableTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Password == "" {
		writeBadRequest(w, "password is required")
		return
	}

	if err := s.auth.DisableTOTP(r.Context(), p, req.Password, requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication disabled"})
}
