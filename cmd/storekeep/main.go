// StoreKeep Core - retail back office platform
//
// This is the main entry point for the StoreKeep Core application. It
// wires the authentication service, tenant registry, audit trail, and
// REST API together and runs them until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/storekeep/storekeep-core/migrations"

	"github.com/storekeep/storekeep-core/internal/api"
	"github.com/storekeep/storekeep-core/internal/audit"
	"github.com/storekeep/storekeep-core/internal/auth"
	"github.com/storekeep/storekeep-core/internal/infrastructure/config"
	"github.com/storekeep/storekeep-core/internal/infrastructure/database"
	"github.com/storekeep/storekeep-core/internal/infrastructure/logging"
	"github.com/storekeep/storekeep-core/internal/infrastructure/metrics"
	"github.com/storekeep/storekeep-core/internal/tenant"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting StoreKeep Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Seed the first super admin on an empty database. The generated
	// password is logged exactly once and must be rotated on first login.
	userRepo := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedSuperAdmin(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding super admin: %w", seedErr)
	}

	// Metrics registry (optional)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		log.Info("metrics enabled")
	}

	// Audit trail: SQLite persistence behind an async non-blocking recorder
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, cfg.Audit.QueueSize)
	recorder.SetLogger(log)
	if m != nil {
		recorder.SetMetrics(m)
	}
	if startErr := recorder.Start(ctx); startErr != nil {
		return fmt.Errorf("starting audit recorder: %w", startErr)
	}
	defer func() {
		log.Info("draining audit recorder")
		recorder.Close()
	}()
	log.Info("audit recorder started", "queue_size", cfg.Audit.QueueSize)

	// Auth service over the credential, session, challenge, device and
	// backup code stores
	authService := auth.NewService(
		auth.ServiceConfig{
			JWTSecret:            cfg.Security.JWT.Secret,
			SessionTTL:           cfg.GetSessionTTL(),
			ChallengeTTL:         cfg.GetChallengeTTL(),
			ChallengeMaxAttempts: cfg.Security.TwoFactor.MaxAttempts,
			DeviceTrustTTL:       cfg.GetDeviceTrustTTL(),
			BackupCodeCount:      cfg.Security.TwoFactor.BackupCodes,
			TOTPIssuer:           cfg.Security.TwoFactor.Issuer,
		},
		userRepo,
		auth.NewSessionRepository(db.DB),
		auth.NewChallengeRepository(db.DB),
		auth.NewDeviceTokenRepository(db.DB),
		auth.NewBackupCodeRepository(db.DB),
	)
	authService.SetLogger(log)
	authService.SetAuditor(recorder)
	log.Info("auth service initialised",
		"session_ttl", cfg.GetSessionTTL(),
		"device_trust_ttl", cfg.GetDeviceTrustTTL(),
	)

	// Tenant registry
	tenantRepo := tenant.NewSQLiteRepository(db.DB)

	// REST API server
	server, err := api.New(api.Deps{
		Config:    cfg,
		Logger:    log,
		DB:        db,
		Auth:      authService,
		Tenants:   tenantRepo,
		AuditRepo: auditRepo,
		Auditor:   recorder,
		Metrics:   m,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	// Verify the stack came up healthy
	if healthErr := server.HealthCheck(ctx); healthErr != nil {
		return fmt.Errorf("health check failed: %w", healthErr)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stop accepting requests)
	// 2. Audit recorder (drain pending entries)
	// 3. Database

	log.Info("StoreKeep Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses STOREKEEP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("STOREKEEP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
