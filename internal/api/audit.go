package api

import (
	"net/http"
	"strconv"

	"github.com/storekeep/storekeep-core/internal/audit"
	"github.com/storekeep/storekeep-core/internal/auth"
)

// handleListAudit returns a filtered page of the audit trail. Company
// admins are pinned to their own company before the query runs; only
// super admins choose the tenant freely.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	q := r.URL.Query()

	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Severity:   q.Get("severity"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = n
	}

	if p.Role == auth.RoleSuperAdmin {
		filter.CompanyID = q.Get("company_id")
	} else {
		// A company-bound caller with no company would otherwise see
		// the unscoped trail; refuse rather than leak.
		if p.CompanyID == "" {
			writeForbidden(w, "forbidden")
			return
		}
		if cid := q.Get("company_id"); cid != "" && cid != p.CompanyID {
			s.recordRBACDenial()
			writeForbidden(w, "forbidden")
			return
		}
		filter.CompanyID = p.CompanyID
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
