// Package tenant provides the company and store hierarchy for StoreKeep.
//
// It defines the tenancy model every other subsystem scopes against:
// Companies own Stores, staff accounts are pinned to a company and
// optionally to a single store, and authorization decisions compare a
// principal's scope to the company that owns the target resource.
//
// The package provides a Repository interface with a SQLite
// implementation. Companies are never hard-deleted: accounts reference
// them with a RESTRICT constraint and the audit trail keys entries by
// company id, so retiring a company means deactivating it.
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use from multiple goroutines
// (SQLite WAL mode + connection pooling).
package tenant
