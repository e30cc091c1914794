// Package audit records security-relevant events to the audit_log
// table. Recording is best effort and non-blocking for the caller;
// secret fields are redacted inside this package before persistence,
// never trusted to callers.
package audit

import (
	"strings"
	"time"
)

// Action is an audited event kind. The set is closed: handlers and
// services pick from these constants rather than passing free-form
// strings, so downstream tooling can rely on the vocabulary.
type Action string

// Action constants.
const (
	ActionUserLogin       Action = "user_login"
	ActionUserLoginFailed Action = "user_login_failed"
	ActionUserLogout      Action = "user_logout"
	ActionUserCreated     Action = "user_created"
	ActionUserUpdated     Action = "user_updated"
	ActionUserDeleted     Action = "user_deleted"
	ActionPasswordChanged Action = "password_changed"

	ActionTwoFactorEnrolled      Action = "twofactor_enrolled"
	ActionTwoFactorDisabled      Action = "twofactor_disabled"
	ActionBackupCodesRegenerated Action = "backup_codes_regenerated"
	ActionDeviceTrusted          Action = "device_trusted"
	ActionDeviceRevoked          Action = "device_revoked"
	ActionDevicesRevokedAll      Action = "devices_revoked_all"

	ActionCompanyCreated Action = "company_created"
	ActionCompanyUpdated Action = "company_updated"
	ActionStoreCreated   Action = "store_created"
	ActionStoreUpdated   Action = "store_updated"
	ActionStoreDeleted   Action = "store_deleted"
)

// Severity classifies how alarming an entry is.
type Severity string

// Severity constants.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Actor identifies who performed an audited action. The seed and
// background sweepers record with ID "system".
type Actor struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Entry is a single audit trail record. Seq is assigned by the
// recorder at enqueue time and is strictly monotonic, so it orders
// entries even when created_at timestamps collide.
type Entry struct {
	ID          string         `json:"id"`
	Seq         int64          `json:"seq"`
	Action      Action         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id,omitempty"`
	Actor       Actor          `json:"actor"`
	CompanyID   string         `json:"company_id,omitempty"`
	StoreID     string         `json:"store_id,omitempty"`
	Description string         `json:"description"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Severity    Severity       `json:"severity"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RedactionMarker replaces secret values in persisted snapshots.
const RedactionMarker = "[REDACTED]"

// secretKeys are field names whose values never reach the audit trail.
// Matching is case-insensitive on the key name only.
var secretKeys = map[string]struct{}{
	"password":         {},
	"password_hash":    {},
	"current_password": {},
	"new_password":     {},
	"secret":           {},
	"totp_secret":      {},
	"backup_code":      {},
	"backup_codes":     {},
	"token":            {},
	"token_hash":       {},
	"device_token":     {},
}

// redactMap returns a copy of m with secret-named keys replaced by the
// redaction marker. Nested maps are walked; the input is not mutated.
func redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, secret := secretKeys[strings.ToLower(k)]; secret {
			out[k] = RedactionMarker
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = redactMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
