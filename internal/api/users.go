package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storekeep/storekeep-core/internal/auth"
)

type createUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
	StoreID   string `json:"store_id"`
}

type updateUserRequest struct {
	Email     *string `json:"email"`
	Role      *string `json:"role"`
	CompanyID *string `json:"company_id"`
	StoreID   *string `json:"store_id"`
	IsActive  *bool   `json:"is_active"`
}

// handleListUsers lists accounts the caller may see. Super admins see
// everything (optionally filtered by company), company admins are
// pinned to their own company.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	users, err := s.auth.ListUsers(r.Context(), p, r.URL.Query().Get("company_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser registers a new account. Role defaults to manager
// when omitted; scope rules are enforced by the auth service.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}
	if !auth.IsValidEmail(req.Email) {
		writeBadRequest(w, "invalid email address")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}

	role := auth.Role(req.Role)
	if req.Role == "" {
		role = auth.RoleManager
	}
	if !auth.IsValidRole(role) {
		writeBadRequest(w, "invalid role")
		return
	}

	user, err := s.auth.CreateUser(r.Context(), p, auth.CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      role,
		CompanyID: req.CompanyID,
		StoreID:   req.StoreID,
	}, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single account the caller manages.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	user, err := s.auth.GetUser(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies a partial account update. Role changes go
// back through scope validation; self role-change and self-deactivate
// are rejected by the service.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	input := auth.UpdateUserInput{
		Email:     req.Email,
		CompanyID: req.CompanyID,
		StoreID:   req.StoreID,
		IsActive:  req.IsActive,
	}

	if req.Email != nil && !auth.IsValidEmail(*req.Email) {
		writeBadRequest(w, "invalid email address")
		return
	}
	if req.Role != nil {
		role := auth.Role(*req.Role)
		if !auth.IsValidRole(role) {
			writeBadRequest(w, "invalid role")
			return
		}
		input.Role = &role
	}

	user, err := s.auth.UpdateUser(r.Context(), p, chi.URLParam(r, "id"), input, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes an account. Self-deletion is rejected so a
// tenant can't lock itself out of its last admin by accident.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	if err := s.auth.DeleteUser(r.Context(), p, chi.URLParam(r, "id"), requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
