package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storekeep/storekeep-core/internal/audit"
	"github.com/storekeep/storekeep-core/internal/tenant"
)

type createCompanyRequest struct {
	Name string `json:"name"`
}

type updateCompanyRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

// companySnapshot is the audit representation of a company.
func companySnapshot(c *tenant.Company) map[string]any {
	return map[string]any{
		"name":      c.Name,
		"is_active": c.IsActive,
	}
}

// handleListCompanies returns all companies. Super admin only, so no
// tenant pinning applies.
func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.tenants.ListCompanies(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"companies": companies,
		"count":     len(companies),
	})
}

// handleCreateCompany provisions a new tenant.
func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req createCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := tenant.ValidateName(req.Name); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	company := &tenant.Company{
		Name:     strings.TrimSpace(req.Name),
		IsActive: true,
	}
	if err := s.tenants.CreateCompany(r.Context(), company); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionCompanyCreated,
		EntityType:  "company",
		EntityID:    company.ID,
		Actor:       auditActor(p),
		CompanyID:   company.ID,
		Description: "company created",
		After:       companySnapshot(company),
		Metadata:    map[string]any{"ip": clientIP(r)},
		Severity:    audit.SeverityInfo,
	})

	writeJSON(w, http.StatusCreated, company)
}

// handleGetCompany returns a single company.
func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := s.tenants.GetCompany(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, company)
}

// handleUpdateCompany applies a partial update. Deactivation is the
// retirement path for a tenant; rows are never deleted, the audit
// trail beneath them has to stay resolvable.
func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req updateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == nil && req.IsActive == nil {
		writeBadRequest(w, "nothing to update")
		return
	}

	company, err := s.tenants.GetCompany(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	before := companySnapshot(company)

	if req.Name != nil {
		if err := tenant.ValidateName(*req.Name); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		company.Name = strings.TrimSpace(*req.Name)
	}
	if req.IsActive != nil {
		company.IsActive = *req.IsActive
	}

	if err := s.tenants.UpdateCompany(r.Context(), company); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionCompanyUpdated,
		EntityType:  "company",
		EntityID:    company.ID,
		Actor:       auditActor(p),
		CompanyID:   company.ID,
		Description: "company updated",
		Before:      before,
		After:       companySnapshot(company),
		Metadata:    map[string]any{"ip": clientIP(r)},
		Severity:    audit.SeverityInfo,
	})

	writeJSON(w, http.StatusOK, company)
}
