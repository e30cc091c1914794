package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/storekeep/storekeep-core/internal/auth"
	"github.com/storekeep/storekeep-core/internal/tenant"
)

// errorBody is the inner payload of an error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse is the envelope every error response uses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeInvalidFactor      = "invalid_second_factor"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeValidation         = "validation_error"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: errorBody{Code: code, Message: message},
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInvalidCredentials writes the uniform 401 for failed logins. One
// body for every failure mode, so responses never reveal whether the
// email, the password, or the challenge was the problem.
func writeInvalidCredentials(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid credentials")
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps domain sentinels onto HTTP responses. Handlers
// call it after dealing with any outcome that needs special treatment;
// anything unmapped is logged and reported as a 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrChallengeExpired):
		// Expired and unknown challenges get the same generic body as a
		// bad password: the caller restarts from the password step.
		writeInvalidCredentials(w)
	case errors.Is(err, auth.ErrSecondFactorFailed):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidFactor, "Invalid two-factor code")
	case errors.Is(err, auth.ErrSessionInvalid):
		writeUnauthorized(w, "authentication required")
	case errors.Is(err, auth.ErrUnauthorized):
		s.recordRBACDenial()
		writeForbidden(w, "forbidden")
	case errors.Is(err, auth.ErrSelfModification):
		writeForbidden(w, err.Error())
	case errors.Is(err, auth.ErrInvalidRoleScope),
		errors.Is(err, tenant.ErrInvalidName):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrDeviceTokenInvalid):
		writeNotFound(w, "device not found")
	case errors.Is(err, tenant.ErrCompanyNotFound):
		writeNotFound(w, "company not found")
	case errors.Is(err, tenant.ErrStoreNotFound):
		writeNotFound(w, "store not found")
	case errors.Is(err, tenant.ErrCompanyHasUsers):
		writeConflict(w, err.Error())
	case errors.Is(err, auth.ErrEmailExists):
		writeConflict(w, "email already registered")
	case errors.Is(err, auth.ErrTwoFactorEnabled):
		writeConflict(w, "two-factor authentication already enabled")
	case errors.Is(err, auth.ErrTwoFactorNotEnrolled):
		writeConflict(w, "two-factor authentication not enrolled")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}
