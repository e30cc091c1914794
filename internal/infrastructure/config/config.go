package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for StoreKeep Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Platform PlatformConfig `yaml:"platform"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PlatformConfig contains deployment-wide identity settings.
type PlatformConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Timezone    string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains authentication and authorization settings.
type SecurityConfig struct {
	JWT         JWTConfig         `yaml:"jwt"`
	Session     SessionConfig     `yaml:"session"`
	TwoFactor   TwoFactorConfig   `yaml:"two_factor"`
	DeviceTrust DeviceTrustConfig `yaml:"device_trust"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// JWTConfig contains access token signing settings. Token lifetime is
// not configured here: the token expires with the session row it
// references.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// SessionConfig contains server-side session settings.
type SessionConfig struct {
	TTL int `yaml:"ttl"` // minutes
}

// TwoFactorConfig contains TOTP second-factor settings.
type TwoFactorConfig struct {
	Issuer       string `yaml:"issuer"`
	ChallengeTTL int    `yaml:"challenge_ttl"` // minutes
	MaxAttempts  int    `yaml:"max_attempts"`  // per pending challenge
	BackupCodes  int    `yaml:"backup_codes"`  // codes per generated set
}

// DeviceTrustConfig contains trusted-device token settings.
type DeviceTrustConfig struct {
	TTLDays int `yaml:"ttl_days"`
}

// RateLimitConfig contains rate limiting settings for the auth endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: STOREKEEP_SECTION_KEY
// For example: STOREKEEP_DATABASE_PATH, STOREKEEP_JWT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Name:        "StoreKeep",
			Environment: "development",
			Timezone:    "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/storekeep.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Session: SessionConfig{
				TTL: 720,
			},
			TwoFactor: TwoFactorConfig{
				Issuer:       "StoreKeep",
				ChallengeTTL: 5,
				MaxAttempts:  5,
				BackupCodes:  8,
			},
			DeviceTrust: DeviceTrustConfig{
				TTLDays: 30,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		Audit: AuditConfig{
			QueueSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: STOREKEEP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("STOREKEEP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("STOREKEEP_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Logging
	if v := os.Getenv("STOREKEEP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("STOREKEEP_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// JWT secret is REQUIRED. An empty or weak secret would let an
	// attacker forge access tokens for any role, super_admin included.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set STOREKEEP_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Security.Session.TTL < 1 {
		errs = append(errs, "security.session.ttl must be at least 1 minute")
	}

	if c.Security.TwoFactor.ChallengeTTL < 1 {
		errs = append(errs, "security.two_factor.challenge_ttl must be at least 1 minute")
	}

	if c.Security.TwoFactor.BackupCodes < 1 {
		errs = append(errs, "security.two_factor.backup_codes must be at least 1")
	}

	if c.Security.DeviceTrust.TTLDays < 1 {
		errs = append(errs, "security.device_trust.ttl_days must be at least 1 day")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be at least 1 when enabled")
	}

	if c.Audit.QueueSize < 1 {
		errs = append(errs, "audit.queue_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetSessionTTL returns the server-side session lifetime as a Duration.
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.Security.Session.TTL) * time.Minute
}

// GetChallengeTTL returns the pending 2FA challenge lifetime as a Duration.
func (c *Config) GetChallengeTTL() time.Duration {
	return time.Duration(c.Security.TwoFactor.ChallengeTTL) * time.Minute
}

// GetDeviceTrustTTL returns the trusted-device token lifetime as a Duration.
func (c *Config) GetDeviceTrustTTL() time.Duration {
	return time.Duration(c.Security.DeviceTrust.TTLDays) * 24 * time.Hour
}
