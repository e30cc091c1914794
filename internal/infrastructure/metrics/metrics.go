package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcome label values.
const (
	LoginSuccess            = "success"
	LoginRequires2FA        = "requires_2fa"
	LoginInvalidCredentials = "invalid_credentials"
	LoginSecondFactorFailed = "second_factor_failed"
)

// Second factor method label values.
const (
	FactorTOTP   = "totp"
	FactorBackup = "backup_code"
)

// Audit entry status label values.
const (
	AuditWritten = "written"
	AuditDropped = "dropped"
	AuditFailed  = "failed"
)

// Metrics holds all Prometheus collectors for the service.
//
// Collectors are registered on a private registry so tests can create
// independent instances without default-registry collisions.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	loginsTotal         *prometheus.CounterVec
	secondFactorTotal   *prometheus.CounterVec
	auditEntriesTotal   *prometheus.CounterVec
	rbacDenialsTotal    prometheus.Counter
	rateLimitedTotal    prometheus.Counter
	activeSessionsGauge prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeep_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storekeep_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		loginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeep_logins_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
		secondFactorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeep_second_factor_attempts_total",
				Help: "Second factor verification attempts by method and result.",
			},
			[]string{"method", "result"},
		),
		auditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeep_audit_entries_total",
				Help: "Audit entries by persistence status.",
			},
			[]string{"status"},
		),
		rbacDenialsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "storekeep_rbac_denials_total",
				Help: "Requests denied by the authorization layer.",
			},
		),
		rateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "storekeep_rate_limited_total",
				Help: "Requests rejected by the rate limiter.",
			},
		),
		activeSessionsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "storekeep_active_sessions",
				Help: "Sessions issued minus sessions revoked since start.",
			},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.loginsTotal,
		m.secondFactorTotal,
		m.auditEntriesTotal,
		m.rbacDenialsTotal,
		m.rateLimitedTotal,
		m.activeSessionsGauge,
	)

	return m
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// RecordLogin records a login attempt outcome.
func (m *Metrics) RecordLogin(outcome string) {
	m.loginsTotal.WithLabelValues(outcome).Inc()
}

// RecordSecondFactor records a second factor verification attempt.
func (m *Metrics) RecordSecondFactor(method string, ok bool) {
	result := "fail"
	if ok {
		result = "ok"
	}
	m.secondFactorTotal.WithLabelValues(method, result).Inc()
}

// RecordAuditEntry records the persistence status of one audit entry.
func (m *Metrics) RecordAuditEntry(status string) {
	m.auditEntriesTotal.WithLabelValues(status).Inc()
}

// RecordRBACDenial records an authorization denial.
func (m *Metrics) RecordRBACDenial() {
	m.rbacDenialsTotal.Inc()
}

// RecordRateLimited records a rate-limited request.
func (m *Metrics) RecordRateLimited() {
	m.rateLimitedTotal.Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	m.activeSessionsGauge.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	m.activeSessionsGauge.Dec()
}
