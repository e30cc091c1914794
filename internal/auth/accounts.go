package auth

import (
	"context"

	"github.com/storekeep/storekeep-core/internal/audit"
)

// CreateUserInput is the material for a new account.
type CreateUserInput struct {
	Email     string
	Password  string
	Role      Role
	CompanyID string
	StoreID   string
}

// UpdateUserInput is a partial account update; nil fields are left
// untouched. Passwords and 2FA state change through their own flows,
// never here.
type UpdateUserInput struct {
	Email     *string
	Role      *Role
	CompanyID *string
	StoreID   *string
	IsActive  *bool
}

// canManageUser enforces the management boundary: super admins manage
// everyone, company admins manage non-super accounts inside their own
// company, nobody else manages accounts at all.
func canManageUser(actor *Principal, target *User) bool {
	switch actor.Role {
	case RoleSuperAdmin:
		return true
	case RoleCompanyAdmin:
		return target.Role != RoleSuperAdmin &&
			actor.CompanyID != "" && target.CompanyID == actor.CompanyID
	default:
		return false
	}
}

// userSnapshot is the audit representation of an account. Credential
// material never appears here; the redaction list owns those keys.
func userSnapshot(u *User) map[string]any {
	return map[string]any{
		"email":              u.Email,
		"role":               string(u.Role),
		"company_id":         u.CompanyID,
		"store_id":           u.StoreID,
		"is_active":          u.IsActive,
		"two_factor_enabled": u.TOTPConfirmed,
	}
}

// CreateUser registers a new account. Company admins may only create
// accounts inside their own company and may not mint super admins.
func (s *Service) CreateUser(ctx context.Context, actor *Principal, input CreateUserInput, meta RequestMeta) (*User, error) {
	switch actor.Role {
	case RoleSuperAdmin:
	case RoleCompanyAdmin:
		if input.Role == RoleSuperAdmin || input.CompanyID != actor.CompanyID {
			return nil, ErrUnauthorized
		}
	default:
		return nil, ErrUnauthorized
	}

	if err := ValidateRoleScope(input.Role, input.CompanyID, input.StoreID); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        NormalizeEmail(input.Email),
		PasswordHash: hash,
		Role:         input.Role,
		CompanyID:    input.CompanyID,
		StoreID:      input.StoreID,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionUserCreated,
		EntityType:  "user",
		EntityID:    user.ID,
		Actor:       actorFromPrincipal(actor),
		CompanyID:   user.CompanyID,
		StoreID:     user.StoreID,
		Description: "user account created",
		After:       userSnapshot(user),
		Metadata:    map[string]any{"ip": meta.IP},
		Severity:    audit.SeverityInfo,
	})

	return user, nil
}

// UpdateUser applies a partial update to an account. Actors cannot
// change their own role or deactivate themselves; deactivation revokes
// the target's sessions and trusted devices so the lockout is
// immediate.
func (s *Service) UpdateUser(ctx context.Context, actor *Principal, userID string, input UpdateUserInput, meta RequestMeta) (*User, error) { //nolint:gocognit,gocyclo // field-by-field policy checks on a partial update
	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !canManageUser(actor, target) {
		return nil, ErrUnauthorized
	}

	before := userSnapshot(target)
	updated := *target
	wasActive := target.IsActive

	if input.Email != nil {
		updated.Email = NormalizeEmail(*input.Email)
	}
	if input.Role != nil {
		if actor.UserID == target.ID && *input.Role != target.Role {
			return nil, ErrSelfModification
		}
		if *input.Role == RoleSuperAdmin && actor.Role != RoleSuperAdmin {
			return nil, ErrUnauthorized
		}
		updated.Role = *input.Role
	}
	if input.CompanyID != nil {
		if actor.Role == RoleCompanyAdmin && *input.CompanyID != actor.CompanyID {
			return nil, ErrUnauthorized
		}
		updated.CompanyID = *input.CompanyID
	}
	if input.StoreID != nil {
		updated.StoreID = *input.StoreID
	}
	if input.IsActive != nil {
		if actor.UserID == target.ID && !*input.IsActive {
			return nil, ErrSelfModification
		}
		updated.IsActive = *input.IsActive
	}

	if err := ValidateRoleScope(updated.Role, updated.CompanyID, updated.StoreID); err != nil {
		return nil, err
	}

	if err := s.users.Update(ctx, &updated); err != nil {
		return nil, err
	}

	if wasActive && !updated.IsActive {
		if err := s.sessions.RevokeAllForUser(ctx, updated.ID); err != nil {
			s.logger.Warn("revoking sessions for deactivated user failed",
				"user_id", updated.ID, "error", err)
		}
		if err := s.devices.RevokeAllForUser(ctx, updated.ID); err != nil {
			s.logger.Warn("revoking device tokens for deactivated user failed",
				"user_id", updated.ID, "error", err)
		}
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionUserUpdated,
		EntityType:  "user",
		EntityID:    updated.ID,
		Actor:       actorFromPrincipal(actor),
		CompanyID:   updated.CompanyID,
		StoreID:     updated.StoreID,
		Description: "user account updated",
		Before:      before,
		After:       userSnapshot(&updated),
		Metadata:    map[string]any{"ip": meta.IP},
		Severity:    audit.SeverityInfo,
	})

	return &updated, nil
}

// DeleteUser removes an account and, via the schema, its sessions,
// challenges, device tokens, and backup codes. Self-deletion is
// refused.
func (s *Service) DeleteUser(ctx context.Context, actor *Principal, userID string, meta RequestMeta) error {
	if actor.UserID == userID {
		return ErrSelfModification
	}

	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !canManageUser(actor, target) {
		return ErrUnauthorized
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionUserDeleted,
		EntityType:  "user",
		EntityID:    target.ID,
		Actor:       actorFromPrincipal(actor),
		CompanyID:   target.CompanyID,
		StoreID:     target.StoreID,
		Description: "user account deleted",
		Before:      userSnapshot(target),
		Metadata:    map[string]any{"ip": meta.IP},
		Severity:    audit.SeverityWarning,
	})
	return nil
}

// GetUser fetches an account the actor may see: their own, or one they
// manage.
func (s *Service) GetUser(ctx context.Context, actor *Principal, userID string) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != userID && !canManageUser(actor, user) {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// ListUsers returns accounts visible to the actor. Super admins see
// all companies (optionally filtered); company admins are pinned to
// their own.
func (s *Service) ListUsers(ctx context.Context, actor *Principal, companyID string) ([]User, error) {
	switch actor.Role {
	case RoleSuperAdmin:
	case RoleCompanyAdmin:
		if companyID != "" && companyID != actor.CompanyID {
			return nil, ErrUnauthorized
		}
		companyID = actor.CompanyID
	default:
		return nil, ErrUnauthorized
	}

	users, err := s.users.List(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return users, nil
}
