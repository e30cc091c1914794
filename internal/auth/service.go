package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storekeep/storekeep-core/internal/audit"
)

// Logger defines the logging interface used by the Service.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Auditor records security-relevant events. Recording never blocks the
// calling flow and its failures never surface to it.
type Auditor interface {
	Record(entry audit.Entry)
}

// noopAuditor drops every entry.
type noopAuditor struct{}

func (noopAuditor) Record(audit.Entry) {}

// ServiceConfig carries the security policy knobs for the auth flows.
type ServiceConfig struct {
	JWTSecret            string
	SessionTTL           time.Duration
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	DeviceTrustTTL       time.Duration
	BackupCodeCount      int
	TOTPIssuer           string
}

// Service implements the login state machine and account security
// operations on top of the repositories. Repositories persist; every
// policy decision (which factor is required, what a device token may
// skip, who may manage whom) lives here.
type Service struct {
	cfg         ServiceConfig
	users       UserRepository
	sessions    SessionRepository
	challenges  ChallengeRepository
	devices     DeviceTokenRepository
	backupCodes BackupCodeRepository
	verifier    *Verifier
	auditor     Auditor
	logger      Logger
	clock       func() time.Time
}

// NewService creates the auth service. Wire an auditor and logger with
// the setters; both default to no-ops.
func NewService(
	cfg ServiceConfig,
	users UserRepository,
	sessions SessionRepository,
	challenges ChallengeRepository,
	devices DeviceTokenRepository,
	backupCodes BackupCodeRepository,
) *Service {
	return &Service{
		cfg:         cfg,
		users:       users,
		sessions:    sessions,
		challenges:  challenges,
		devices:     devices,
		backupCodes: backupCodes,
		verifier:    NewVerifier(users),
		auditor:     noopAuditor{},
		logger:      noopLogger{},
		clock:       time.Now,
	}
}

// SetAuditor sets the audit sink for the service.
func (s *Service) SetAuditor(a Auditor) {
	s.auditor = a
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetClock overrides the time source. Used by tests to step through
// TOTP windows and TTLs.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// RequestMeta carries transport-level facts about the caller for
// session records and the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginInput is one login attempt as submitted by the client.
type LoginInput struct {
	Email          string
	Password       string
	TwoFactorToken string // optional inline TOTP or backup code
	RememberDevice bool
	DeviceToken    string // optional trusted-device token from the request header
	Meta           RequestMeta
}

// LoginResult is the outcome of a login or challenge completion. A nil
// Session with a ChallengeID means the second factor is still
// outstanding; the client completes it against that challenge
// reference.
type LoginResult struct {
	User               *User
	Session            *Session
	AccessToken        string
	ChallengeID        string
	ChallengeExpiresAt time.Time
	DeviceToken        string // fresh trusted-device token, when minted
}

// Requires2FA reports whether the login is paused on the second factor.
func (r *LoginResult) Requires2FA() bool {
	return r.Session == nil && r.ChallengeID != ""
}

// ChallengeInput completes a pending second-factor challenge.
type ChallengeInput struct {
	ChallengeID    string
	Code           string
	RememberDevice bool
	Meta           RequestMeta
}

// Login runs one password-first login attempt. Subjects without 2FA get
// a session straight away. Enrolled subjects either short-circuit via a
// live trusted-device token or receive a pending challenge; an inline
// second-factor code is tried against that fresh challenge immediately,
// and a wrong inline code leaves the challenge pending rather than
// failing the attempt.
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	user, err := s.verifier.VerifyCredentials(ctx, input.Email, input.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.auditor.Record(audit.Entry{
				Action:      audit.ActionUserLoginFailed,
				EntityType:  "user",
				Description: "login attempt failed",
				Metadata: map[string]any{
					"email": NormalizeEmail(input.Email),
					"stage": "password",
					"ip":    input.Meta.IP,
				},
				Severity: audit.SeverityWarning,
			})
		}
		return nil, err
	}

	if !user.TwoFactorEnrolled() {
		return s.issueSession(ctx, user, "password", "", input.Meta)
	}

	if input.DeviceToken != "" {
		if device, ok := s.validateDeviceToken(ctx, user, input.DeviceToken); ok {
			if err := s.devices.TouchLastSeen(ctx, device.ID); err != nil {
				s.logger.Warn("updating device token last seen failed",
					"device_id", device.ID, "error", err)
			}
			return s.issueSession(ctx, user, "device_token", device.ID, input.Meta)
		}
	}

	challenge := &PendingChallenge{
		UserID:            user.ID,
		RememberRequested: input.RememberDevice,
		ExpiresAt:         s.now().Add(s.cfg.ChallengeTTL),
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("issuing challenge: %w", err)
	}

	if input.TwoFactorToken != "" {
		result, err := s.completeChallenge(ctx, challenge, user, input.TwoFactorToken, input.RememberDevice, input.Meta)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrSecondFactorFailed) {
			return nil, err
		}
		// Wrong inline code: the challenge stays pending for retry.
	}

	return &LoginResult{User: user, ChallengeID: challenge.ID, ChallengeExpiresAt: challenge.ExpiresAt}, nil
}

// CompleteChallenge finishes a login paused on its second factor. The
// challenge must be live; expiry sends the caller back to the password
// step. Unknown challenge references and expired ones are reported
// identically.
func (s *Service) CompleteChallenge(ctx context.Context, input ChallengeInput) (*LoginResult, error) {
	challenge, err := s.challenges.GetByID(ctx, input.ChallengeID)
	if err != nil {
		return nil, err
	}

	if challenge.Expired(s.now()) {
		if err := s.challenges.Delete(ctx, challenge.ID); err != nil {
			s.logger.Warn("deleting expired challenge failed",
				"challenge_id", challenge.ID, "error", err)
		}
		return nil, ErrChallengeExpired
	}

	user, err := s.users.GetByID(ctx, challenge.UserID)
	if err != nil || !user.IsActive || !user.TwoFactorEnrolled() {
		// The account changed underneath the pending login; restarting
		// from the password step surfaces the real state.
		if derr := s.challenges.Delete(ctx, challenge.ID); derr != nil {
			s.logger.Warn("deleting orphaned challenge failed",
				"challenge_id", challenge.ID, "error", derr)
		}
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, ErrChallengeExpired
	}

	return s.completeChallenge(ctx, challenge, user, input.Code, input.RememberDevice, input.Meta)
}

// completeChallenge verifies a second-factor code against a live
// challenge and, on success, consumes the challenge and issues the
// session. A wrong code increments the attempt counter and leaves the
// challenge pending until the cap, after which the challenge is
// invalidated and the caller restarts from the password step.
func (s *Service) completeChallenge(ctx context.Context, challenge *PendingChallenge, user *User, code string, remember bool, meta RequestMeta) (*LoginResult, error) {
	method, ok, err := s.verifySecondFactor(ctx, user, code)
	if err != nil {
		return nil, err
	}

	if !ok {
		attempts, ferr := s.challenges.RecordFailure(ctx, challenge.ID)
		if ferr != nil {
			return nil, ferr
		}

		s.auditor.Record(audit.Entry{
			Action:      audit.ActionUserLoginFailed,
			EntityType:  "user",
			EntityID:    user.ID,
			Actor:       actorFromUser(user),
			CompanyID:   user.CompanyID,
			StoreID:     user.StoreID,
			Description: "second factor verification failed",
			Metadata: map[string]any{
				"stage":    "second_factor",
				"attempts": attempts,
				"ip":       meta.IP,
			},
			Severity: audit.SeverityWarning,
		})

		if attempts >= s.cfg.ChallengeMaxAttempts {
			if derr := s.challenges.Delete(ctx, challenge.ID); derr != nil {
				s.logger.Warn("deleting exhausted challenge failed",
					"challenge_id", challenge.ID, "error", derr)
			}
			return nil, ErrChallengeExpired
		}
		return nil, ErrSecondFactorFailed
	}

	// Single winner: of two concurrent submissions for the same
	// challenge, only the one whose delete lands issues a session.
	if err := s.challenges.Consume(ctx, challenge.ID); err != nil {
		return nil, err
	}

	result, err := s.issueSession(ctx, user, method, "", meta)
	if err != nil {
		return nil, err
	}

	if remember || challenge.RememberRequested {
		raw, device, derr := s.issueDeviceToken(ctx, user, meta)
		if derr != nil {
			// The login itself succeeded; the device just stays untrusted.
			s.logger.Warn("device token issuance failed",
				"user_id", user.ID, "error", derr)
		} else {
			result.DeviceToken = raw
			s.auditor.Record(audit.Entry{
				Action:      audit.ActionDeviceTrusted,
				EntityType:  "device_token",
				EntityID:    device.ID,
				Actor:       actorFromUser(user),
				CompanyID:   user.CompanyID,
				StoreID:     user.StoreID,
				Description: "device trusted for second factor skip",
				Metadata:    map[string]any{"expires_at": device.ExpiresAt.Format(time.RFC3339)},
				Severity:    audit.SeverityInfo,
			})
		}
	}

	return result, nil
}

// verifySecondFactor tries the submitted code as a TOTP first, then as
// a backup code. Backup codes are consumed by the check itself: the
// single-use guarantee holds even against concurrent submissions of
// the same code.
func (s *Service) verifySecondFactor(ctx context.Context, user *User, code string) (method string, ok bool, err error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false, nil
	}

	if VerifyTOTP(code, user.TOTPSecret, s.now()) {
		return "totp", true, nil
	}

	cerr := s.backupCodes.Consume(ctx, user.ID, HashToken(strings.ToUpper(code)))
	if cerr == nil {
		return "backup_code", true, nil
	}
	if errors.Is(cerr, ErrSecondFactorFailed) {
		return "", false, nil
	}
	return "", false, cerr
}

// validateDeviceToken checks an opaque token against the store. The
// token must resolve, belong to this user, and sit inside its fixed
// validity window. Any failure falls back to the challenge path: a
// stale token is not an error, it just no longer skips the second
// factor.
func (s *Service) validateDeviceToken(ctx context.Context, user *User, raw string) (*DeviceToken, bool) {
	device, err := s.devices.GetByHash(ctx, HashToken(raw))
	if err != nil {
		if !errors.Is(err, ErrDeviceTokenInvalid) {
			s.logger.Warn("device token lookup failed", "error", err)
		}
		return nil, false
	}
	if device.UserID != user.ID || !device.Valid(s.now()) {
		return nil, false
	}
	return device, true
}

// issueSession converges the three login paths on one session shape.
// Every caller has completed credential verification in this same
// request; there is no path here around the password check.
func (s *Service) issueSession(ctx context.Context, user *User, method, deviceID string, meta RequestMeta) (*LoginResult, error) {
	session := &Session{
		UserID:    user.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		ExpiresAt: s.now().Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	token, err := GenerateAccessToken(user, session, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"method": method, "ip": meta.IP}
	if deviceID != "" {
		metadata["device_id"] = deviceID
	}
	s.auditor.Record(audit.Entry{
		Action:      audit.ActionUserLogin,
		EntityType:  "session",
		EntityID:    session.ID,
		Actor:       actorFromUser(user),
		CompanyID:   user.CompanyID,
		StoreID:     user.StoreID,
		Description: "user logged in",
		Metadata:    metadata,
		Severity:    audit.SeverityInfo,
	})

	return &LoginResult{User: user, Session: session, AccessToken: token}, nil
}

// issueDeviceToken mints a fresh opaque token for the caller's device.
// Issuance is additive: earlier tokens for other devices stay live.
func (s *Service) issueDeviceToken(ctx context.Context, user *User, meta RequestMeta) (string, *DeviceToken, error) {
	raw, err := GenerateDeviceToken()
	if err != nil {
		return "", nil, err
	}

	device := &DeviceToken{
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		UserAgent: meta.UserAgent,
		ExpiresAt: s.now().Add(s.cfg.DeviceTrustTTL),
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return "", nil, err
	}
	return raw, device, nil
}

// Authenticate resolves a bearer token to a live principal. The session
// row is re-read on every call, so a revoked or expired row fails
// immediately regardless of the JWT's embedded expiry, and role or
// scope changes to the account take effect on the next request.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := ParseToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.Live(s.now()) || session.UserID != claims.Subject {
		return nil, ErrSessionInvalid
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrSessionInvalid
	}

	return &Principal{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		StoreID:   user.StoreID,
		SessionID: session.ID,
	}, nil
}

// Logout revokes the principal's session row. Revocation is the
// invalidation: the next Authenticate on this session fails.
func (s *Service) Logout(ctx context.Context, p *Principal, meta RequestMeta) error {
	if err := s.sessions.Revoke(ctx, p.SessionID); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionUserLogout,
		EntityType:  "session",
		EntityID:    p.SessionID,
		Actor:       actorFromPrincipal(p),
		CompanyID:   p.CompanyID,
		StoreID:     p.StoreID,
		Description: "user logged out",
		Metadata:    map[string]any{"ip": meta.IP},
		Severity:    audit.SeverityInfo,
	})
	return nil
}

// ChangePassword verifies the current password before accepting the new
// one. All trusted-device tokens are revoked; live sessions stay up.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, currentPassword, newPassword string, meta RequestMeta) error {
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}

	match, err := VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	if err := s.devices.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Warn("revoking device tokens after password change failed",
			"user_id", user.ID, "error", err)
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionPasswordChanged,
		EntityType:  "user",
		EntityID:    user.ID,
		Actor:       actorFromPrincipal(p),
		CompanyID:   user.CompanyID,
		StoreID:     user.StoreID,
		Description: "password changed",
		Before:      map[string]any{"password": currentPassword},
		After:       map[string]any{"password": newPassword},
		Severity:    audit.SeverityInfo,
	})
	return nil
}

// SweepExpired deletes challenges past their TTL, sessions past expiry,
// and device tokens past their validity window. Returns total rows
// removed across the three tables.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	var total int64

	n, err := s.challenges.DeleteExpired(ctx)
	if err != nil {
		return total, fmt.Errorf("sweeping challenges: %w", err)
	}
	total += n

	n, err = s.sessions.DeleteExpired(ctx)
	if err != nil {
		return total, fmt.Errorf("sweeping sessions: %w", err)
	}
	total += n

	n, err = s.devices.DeleteExpired(ctx)
	if err != nil {
		return total, fmt.Errorf("sweeping device tokens: %w", err)
	}
	total += n

	return total, nil
}

func actorFromUser(u *User) audit.Actor {
	return audit.Actor{ID: u.ID, Email: u.Email, Role: string(u.Role)}
}

func actorFromPrincipal(p *Principal) audit.Actor {
	return audit.Actor{ID: p.UserID, Email: p.Email, Role: string(p.Role)}
}
