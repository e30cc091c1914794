package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storekeep/storekeep-core/internal/audit"
	"github.com/storekeep/storekeep-core/internal/auth"
	"github.com/storekeep/storekeep-core/internal/tenant"
)

// storeManageRoles is the required-role set for store administration.
// Company admins and super admins pass through the capability cover.
var storeManageRoles = []auth.Role{auth.RoleStoreOwner}

type createStoreRequest struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

type updateStoreRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

// storeSnapshot is the audit representation of a store.
func storeSnapshot(st *tenant.Store) map[string]any {
	return map[string]any{
		"company_id": st.CompanyID,
		"name":       st.Name,
		"is_active":  st.IsActive,
	}
}

// handleListStores lists stores. Scoped callers are pinned to their own
// company; super admins may filter by company or list everything.
func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	companyID := r.URL.Query().Get("company_id")
	if companyID == "" && p.Role != auth.RoleSuperAdmin {
		companyID = p.CompanyID
	}
	if companyID != "" {
		if err := auth.Authorize(p, storeManageRoles, auth.Scope{CompanyID: companyID}); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}

	stores, err := s.tenants.ListStores(r.Context(), companyID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stores": stores,
		"count":  len(stores),
	})
}

// handleCreateStore opens a new store under a company. Scoped callers
// may omit company_id; it defaults to their own company and anything
// else is refused by the scope check.
func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req createStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	companyID := req.CompanyID
	if companyID == "" {
		companyID = p.CompanyID
	}
	if companyID == "" {
		writeBadRequest(w, "company_id is required")
		return
	}

	if err := auth.Authorize(p, storeManageRoles, auth.Scope{CompanyID: companyID}); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := tenant.ValidateName(req.Name); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	store := &tenant.Store{
		CompanyID: companyID,
		Name:      strings.TrimSpace(req.Name),
		IsActive:  true,
	}
	if err := s.tenants.CreateStore(r.Context(), store); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionStoreCreated,
		EntityType:  "store",
		EntityID:    store.ID,
		Actor:       auditActor(p),
		CompanyID:   store.CompanyID,
		StoreID:     store.ID,
		Description: "store created",
		After:       storeSnapshot(store),
		Metadata:    map[string]any{"ip": clientIP(r)},
		Severity:    audit.SeverityInfo,
	})

	writeJSON(w, http.StatusCreated, store)
}

// resolveStore loads a store and authorises the caller against its
// company and store scope. The fetch happens first: the store row is
// what binds the resource to a tenant.
func (s *Server) resolveStore(w http.ResponseWriter, r *http.Request) (*tenant.Store, bool) {
	p := principalFromContext(r.Context())

	store, err := s.tenants.GetStore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}

	scope := auth.Scope{CompanyID: store.CompanyID, StoreID: store.ID}
	if err := auth.Authorize(p, storeManageRoles, scope); err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}

	return store, true
}

// handleGetStore returns a single store.
func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	store, ok := s.resolveStore(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, store)
}

// handleUpdateStore applies a partial update. The company binding is
// immutable; moving a store between tenants is not supported.
func (s *Server) handleUpdateStore(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req updateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == nil && req.IsActive == nil {
		writeBadRequest(w, "nothing to update")
		return
	}

	store, ok := s.resolveStore(w, r)
	if !ok {
		return
	}
	before := storeSnapshot(store)

	if req.Name != nil {
		if err := tenant.ValidateName(*req.Name); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		store.Name = strings.TrimSpace(*req.Name)
	}
	if req.IsActive != nil {
		store.IsActive = *req.IsActive
	}

	if err := s.tenants.UpdateStore(r.Context(), store); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionStoreUpdated,
		EntityType:  "store",
		EntityID:    store.ID,
		Actor:       auditActor(p),
		CompanyID:   store.CompanyID,
		StoreID:     store.ID,
		Description: "store updated",
		Before:      before,
		After:       storeSnapshot(store),
		Metadata:    map[string]any{"ip": clientIP(r)},
		Severity:    audit.SeverityInfo,
	})

	writeJSON(w, http.StatusOK, store)
}

// handleDeleteStore removes a store.
func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	store, ok := s.resolveStore(w, r)
	if !ok {
		return
	}

	if err := s.tenants.DeleteStore(r.Context(), store.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionStoreDeleted,
		EntityType:  "store",
		EntityID:    store.ID,
		Actor:       auditActor(p),
		CompanyID:   store.CompanyID,
		StoreID:     store.ID,
		Description: "store deleted",
		Before:      storeSnapshot(store),
		Metadata:    map[string]any{"ip": clientIP(r)},
		Severity:    audit.SeverityWarning,
	})

	w.WriteHeader(http.StatusNoContent)
}
