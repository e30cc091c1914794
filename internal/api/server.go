// Package api provides the HTTP REST API for StoreKeep Core.
//
// It exposes authentication, account, tenant and audit endpoints to
// management interfaces (web admin, back office tooling).
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/storekeep/storekeep-core/internal/audit"
	"github.com/storekeep/storekeep-core/internal/auth"
	"github.com/storekeep/storekeep-core/internal/infrastructure/config"
	"github.com/storekeep/storekeep-core/internal/infrastructure/database"
	"github.com/storekeep/storekeep-core/internal/infrastructure/logging"
	"github.com/storekeep/storekeep-core/internal/infrastructure/metrics"
	"github.com/storekeep/storekeep-core/internal/tenant"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// sweepInterval is how often expired sessions, challenges and device
// trusts are purged. Expiry is enforced on every read, so the sweep
// only reclaims storage.
const sweepInterval = 10 * time.Minute

// Auditor receives audit entries for actions performed through the API.
// The concrete recorder queues entries and never blocks the caller, so
// handlers can record on the request path.
type Auditor interface {
	Record(entry audit.Entry)
}

// noopAuditor discards all entries. Used when no auditor is wired.
type noopAuditor struct{}

func (noopAuditor) Record(audit.Entry) {}

// auditActor converts the request principal into an audit actor.
func auditActor(p *auth.Principal) audit.Actor {
	return audit.Actor{ID: p.UserID, Email: p.Email, Role: string(p.Role)}
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    *config.Config
	Logger    *logging.Logger
	DB        *database.DB
	Auth      *auth.Service
	Tenants   tenant.Repository
	AuditRepo audit.Repository
	Auditor   Auditor          // optional: nil means audit entries from handlers are dropped
	Metrics   *metrics.Metrics // optional: nil disables instrumentation
	Version   string
}

// Server is the HTTP API server for StoreKeep Core.
//
// It manages the HTTP listener, routes, middleware, and background
// sweep loops. The server is created with New() and started with Start().
type Server struct {
	cfg       *config.Config
	logger    *logging.Logger
	db        *database.DB
	auth      *auth.Service
	tenants   tenant.Repository
	auditRepo audit.Repository
	auditor   Auditor
	metrics   *metrics.Metrics
	limiter   *rateLimiter
	version   string
	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, database, auth service,
//     tenant and audit repositories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Tenants == nil {
		return nil, fmt.Errorf("tenant repository is required")
	}
	if deps.AuditRepo == nil {
		return nil, fmt.Errorf("audit repository is required")
	}

	auditor := deps.Auditor
	if auditor == nil {
		auditor = noopAuditor{}
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		db:        deps.DB,
		auth:      deps.Auth,
		tenants:   deps.Tenants,
		auditRepo: deps.AuditRepo,
		auditor:   auditor,
		metrics:   deps.Metrics,
		version:   deps.Version,
	}

	if rl := deps.Config.Security.RateLimit; rl.Enabled {
		s.limiter = newRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, launches the expiry sweep loops, and starts
// the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.sweepLoop(srvCtx)
	if s.limiter != nil {
		go s.limiterSweepLoop(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.API.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.API.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.API.TLS.CertFile, s.cfg.API.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting",
				"address", s.server.Addr,
				"rate_limit", s.limiter != nil,
			)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// sweepLoop periodically removes expired sessions, login challenges
// and device trusts.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.auth.SweepExpired(ctx)
			if err != nil {
				s.logger.Warn("auth sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Debug("auth sweep completed", "rows_removed", removed)
			}
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (sweep loops)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and its database is
// reachable.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return s.db.HealthCheck(ctx)
}

// Metric helpers are nil-guarded so handlers never need to care whether
// instrumentation is enabled.

func (s *Server) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(outcome)
	}
}

func (s *Server) recordSecondFactor(method string, ok bool) {
	if s.metrics != nil {
		s.metrics.RecordSecondFactor(method, ok)
	}
}

func (s *Server) recordRBACDenial() {
	if s.metrics != nil {
		s.metrics.RecordRBACDenial()
	}
}

func (s *Server) recordRateLimited() {
	if s.metrics != nil {
		s.metrics.RecordRateLimited()
	}
}

func (s *Server) sessionOpened() {
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
}

func (s *Server) sessionClosed() {
	if s.metrics != nil {
		s.metrics.SessionClosed()
	}
}
