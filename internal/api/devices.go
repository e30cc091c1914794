package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListDevices lists the caller's trusted devices. Token hashes
// never serialise; the listing is metadata only.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	devices, err := s.auth.ListDevices(r.Context(), p, p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleRevokeDevice revokes one of the caller's trusted devices. The
// next login from that device goes through the full second factor.
func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	deviceID := chi.URLParam(r, "id")

	if err := s.auth.RevokeDevice(r.Context(), p, p.UserID, deviceID, requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeAllDevices revokes every trusted device the caller has.
func (s *Server) handleRevokeAllDevices(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	if err := s.auth.RevokeAllDevices(r.Context(), p, p.UserID, requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeUserDevices is the administrative variant: revoke all
// trusted devices of a managed account, forcing 2FA on its next login.
func (s *Server) handleRevokeUserDevices(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	userID := chi.URLParam(r, "id")

	if err := s.auth.RevokeAllDevices(r.Context(), p, userID, requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
