package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// emailPattern is a pragmatic format check: one @, no whitespace, a dot in
// the domain. Deliverability is not this layer's problem.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// maxEmailLength is the maximum allowed email length.
const maxEmailLength = 254

// IsValidEmail checks if an email address meets format requirements.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// NormalizeEmail lowercases and trims an email address. All lookups and
// uniqueness checks operate on the normalised form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Role represents an authorisation tier in the platform hierarchy.
type Role string

const (
	// RoleSuperAdmin is platform operations staff. Unscoped: bypasses all
	// tenant boundaries. Credentials belong in a recovery pack, not in
	// day-to-day use.
	RoleSuperAdmin Role = "super_admin"

	// RoleCompanyAdmin administers one company: its stores, its staff,
	// its audit trail. Carries a superset of store owner capability
	// within its own company.
	RoleCompanyAdmin Role = "company_admin"

	// RoleStoreOwner manages stores belonging to its company.
	RoleStoreOwner Role = "store_owner"

	// RoleManager is store-level staff. Scoped to a company and
	// optionally pinned to a single store.
	RoleManager Role = "manager"
)

// ValidRoles is the set of assignable user roles.
var ValidRoles = []Role{RoleSuperAdmin, RoleCompanyAdmin, RoleStoreOwner, RoleManager}

// IsValidRole returns true if the role is an assignable user role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// RequiresCompany returns true for roles that must carry a company scope.
func (r Role) RequiresCompany() bool {
	return r == RoleCompanyAdmin || r == RoleStoreOwner || r == RoleManager
}

// ValidateRoleScope enforces the tenant hierarchy invariant for a role
// assignment: super admins are unscoped, company-level roles require a
// company, and only managers may be pinned to a store. Violations wrap
// ErrInvalidRoleScope so callers can map them to a validation failure.
func ValidateRoleScope(role Role, companyID, storeID string) error {
	switch role {
	case RoleSuperAdmin:
		if companyID != "" || storeID != "" {
			return fmt.Errorf("%w: super_admin must not carry tenant scope", ErrInvalidRoleScope)
		}
	case RoleCompanyAdmin, RoleStoreOwner:
		if companyID == "" {
			return fmt.Errorf("%w: %s requires a company", ErrInvalidRoleScope, role)
		}
		if storeID != "" {
			return fmt.Errorf("%w: %s is company-level, store scope not allowed", ErrInvalidRoleScope, role)
		}
	case RoleManager:
		if companyID == "" {
			return fmt.Errorf("%w: %s requires a company", ErrInvalidRoleScope, role)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRoleScope, role)
	}
	return nil
}

// User represents an account with credentials. Empty CompanyID/StoreID
// means unscoped (super admins only, enforced by ValidateRoleScope).
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // never serialised
	Role         Role   `json:"role"`
	CompanyID    string `json:"company_id,omitempty"`
	StoreID      string `json:"store_id,omitempty"`

	// TOTPSecret is set at provisioning and only honoured once confirmed.
	TOTPSecret    string `json:"-"` // never serialised
	TOTPConfirmed bool   `json:"two_factor_enabled"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TwoFactorEnrolled reports whether login must demand a second factor.
func (u *User) TwoFactorEnrolled() bool {
	return u.TOTPSecret != "" && u.TOTPConfirmed
}

// Principal is the identity attached to a request after authentication.
// Immutable once issued; derived from the user row at session issuance.
type Principal struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
	StoreID   string `json:"store_id,omitempty"`
	SessionID string `json:"session_id"`
}

// Session is a server-side login record. The row, not the JWT, is the
// authority: revoking it invalidates the bearer immediately.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Live reports whether the session is usable at the given instant.
func (s *Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// PendingChallenge links a password-verified subject to an outstanding
// second factor demand. Single use; expiry is checked against ExpiresAt
// on every read, never inferred.
type PendingChallenge struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	RememberRequested bool      `json:"remember_requested"`
	Attempts          int       `json:"attempts"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Expired reports whether the challenge TTL has passed.
func (c *PendingChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// DeviceToken is a trusted-device record. Only the SHA-256 of the opaque
// value is stored; presentation of a live token skips the second factor.
type DeviceToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"` // never serialised
	UserAgent  string     `json:"user_agent,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// Valid reports whether the token may still suppress the second factor.
// No sliding renewal: expiry is fixed at issuance.
func (d *DeviceToken) Valid(now time.Time) bool {
	return d.RevokedAt == nil && now.Before(d.ExpiresAt)
}

// BackupCode is a single-use substitute for a TOTP code.
type BackupCode struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	CodeHash   string     `json:"-"` // never serialised
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrSecondFactorFailed = errors.New("second factor verification failed")
	ErrDeviceTokenInvalid = errors.New("device token invalid")
	ErrUnauthorized       = errors.New("unauthorized")

	ErrUserNotFound         = errors.New("user not found")
	ErrEmailExists          = errors.New("email already registered")
	ErrSessionInvalid       = errors.New("session invalid")
	ErrTwoFactorNotEnrolled = errors.New("two-factor authentication not enrolled")
	ErrTwoFactorEnabled     = errors.New("two-factor authentication already enabled")
	ErrSelfModification     = errors.New("cannot modify own account in this way")
	ErrInvalidRoleScope     = errors.New("invalid role scope")
)
