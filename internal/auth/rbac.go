package auth

// Capability represents a named capability in the system.
type Capability string

// Capability constants.
const (
	CapPlatformAdmin Capability = "platform:admin"
	CapCompanyManage Capability = "company:manage"
	CapStoreManage   Capability = "store:manage"
	CapStoreOperate  Capability = "store:operate"
	CapStaffManage   Capability = "staff:manage"
	CapReportsView   Capability = "reports:view"
	CapAuditRead     Capability = "audit:read"
)

// roleCapabilities maps each role to its granted capabilities.
// This is the single source of truth for the authorisation model.
// Role supersets fall out of the table: company_admin carries every
// store_owner capability, so it passes store_owner-gated checks inside
// its own company without any role-name comparison.
var roleCapabilities = map[Role][]Capability{
	RoleSuperAdmin: {
		CapPlatformAdmin,
		CapCompanyManage,
		CapStoreManage,
		CapStoreOperate,
		CapStaffManage,
		CapReportsView,
		CapAuditRead,
	},
	RoleCompanyAdmin: {
		CapCompanyManage,
		CapStoreManage,
		CapStoreOperate,
		CapStaffManage,
		CapReportsView,
		CapAuditRead,
	},
	RoleStoreOwner: {
		CapStoreManage,
		CapStoreOperate,
		CapStaffManage,
		CapReportsView,
	},
	RoleManager: {
		CapStoreOperate,
		CapReportsView,
	},
}

// Scope identifies the tenant resource a request targets. A zero Scope
// means the operation has no tenant target. Callers resolve a store's
// company before the check: a Scope naming a store without its company
// is rejected.
type Scope struct {
	CompanyID string
	StoreID   string
}

// HasCapability returns true if the given role has the specified capability.
func HasCapability(role Role, cap Capability) bool {
	caps, ok := roleCapabilities[role]
	if !ok {
		return false
	}
	for _, c := range caps {
		if c == cap {
			return true
		}
	}
	return false
}

// CapabilitiesForRole returns all capabilities granted to a role.
// Returns nil for unknown roles.
func CapabilitiesForRole(role Role) []Capability {
	caps := roleCapabilities[role]
	if caps == nil {
		return nil
	}
	result := make([]Capability, len(caps))
	copy(result, caps)
	return result
}

// roleSatisfies reports whether the actual role carries every
// capability of the required role. Unknown roles on either side fail.
func roleSatisfies(actual, required Role) bool {
	want, ok := roleCapabilities[required]
	if !ok {
		return false
	}
	for _, c := range want {
		if !HasCapability(actual, c) {
			return false
		}
	}
	return true
}

// Authorize decides whether the principal may perform an operation
// gated by the given required-role set against the given scope. It
// returns nil to allow and ErrUnauthorized to deny.
//
// The principal passes the role gate when its capability set covers
// that of any required role. Company-scoped principals then only act
// on resources in their own company, and a manager pinned to a store
// only on that store. An empty required set denies everyone, including
// super_admin; otherwise super_admin bypasses scope checks entirely.
func Authorize(p *Principal, required []Role, scope Scope) error {
	if p == nil || len(required) == 0 {
		return ErrUnauthorized
	}

	if p.Role == RoleSuperAdmin {
		return nil
	}

	allowed := false
	for _, req := range required {
		if roleSatisfies(p.Role, req) {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrUnauthorized
	}

	if scope.StoreID != "" && scope.CompanyID == "" {
		return ErrUnauthorized
	}

	if scope.CompanyID != "" {
		if p.CompanyID == "" || p.CompanyID != scope.CompanyID {
			return ErrUnauthorized
		}
	}

	if scope.StoreID != "" && p.StoreID != "" && p.StoreID != scope.StoreID {
		return ErrUnauthorized
	}

	return nil
}
