// Package auth provides authentication and authorisation for StoreKeep.
//
// It implements a 4-tier role model (manager → store_owner →
// company_admin → super_admin) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - TOTP second factor with single-use backup codes
//   - Trusted-device tokens that skip the second factor for 30 days
//   - DB-backed sessions referenced by signed JWTs, revocable instantly
//   - Static role-capability mapping (compile-time, no database lookup)
//
// Authorisation is fail-closed: an operation without a matching allow
// rule is denied. Company admins carry a superset of store owner
// capability inside their own company; the superset relation is
// computed from the capability table, never from role-name comparison.
// Super admins bypass tenant scoping entirely.
package auth
