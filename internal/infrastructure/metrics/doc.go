// Package metrics provides Prometheus instrumentation for StoreKeep Core.
//
// Collectors cover the HTTP surface (request counts and latencies) and the
// authentication domain (login outcomes, second factor attempts, audit
// persistence, RBAC denials). The API server exposes them at /metrics.
//
// Usage:
//
//	m := metrics.New()
//	m.RecordLogin(metrics.LoginSuccess)
//	mux.Handle("/metrics", m.Handler())
package metrics
