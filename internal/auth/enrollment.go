package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/storekeep/storekeep-core/internal/audit"
)

// TOTPEnrollment is the provisioning material returned when enrolment
// begins. It is shown to the user exactly once; the secret only starts
// gating logins after confirmation.
type TOTPEnrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	ManualEntryKey  string `json:"manual_entry_key"`
}

// BeginTOTPEnrollment provisions a new TOTP secret for the caller.
// Restarting an unconfirmed enrolment replaces the previous secret;
// a confirmed enrolment must be disabled first.
func (s *Service) BeginTOTPEnrollment(ctx context.Context, p *Principal) (*TOTPEnrollment, error) {
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnrolled() {
		return nil, ErrTwoFactorEnabled
	}

	secret, uri, err := GenerateTOTPSecret(s.cfg.TOTPIssuer, user.Email)
	if err != nil {
		return nil, err
	}

	if err := s.users.SetTOTPSecret(ctx, user.ID, secret); err != nil {
		return nil, err
	}

	return &TOTPEnrollment{
		Secret:          secret,
		ProvisioningURI: uri,
		ManualEntryKey:  formatManualKey(secret),
	}, nil
}

// ConfirmTOTPEnrollment turns 2FA on once the user proves their
// authenticator produces valid codes. A fresh set of backup codes is
// generated and returned in plaintext, the only time they are visible.
func (s *Service) ConfirmTOTPEnrollment(ctx context.Context, p *Principal, code string, meta RequestMeta) ([]string, error) {
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnrolled() {
		return nil, ErrTwoFactorEnabled
	}
	if user.TOTPSecret == "" {
		return nil, ErrTwoFactorNotEnrolled
	}

	if !VerifyTOTP(strings.TrimSpace(code), user.TOTPSecret, s.now()) {
		return nil, ErrSecondFactorFailed
	}

	if err := s.users.ConfirmTOTP(ctx, user.ID); err != nil {
		return nil, err
	}

	codes, err := s.replaceBackupCodes(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionTwoFactorEnrolled,
		EntityType:  "user",
		EntityID:    user.ID,
		Actor:       actorFromPrincipal(p),
		CompanyID:   user.CompanyID,
		StoreID:     user.StoreID,
		Description: "two-factor authentication enabled",
		Metadata:    map[string]any{"backup_code_count": len(codes), "ip": meta.IP},
		Severity:    audit.SeverityInfo,
	})

	return codes, nil
}

// DisableTOTP turns 2FA off after re-verifying the password. Backup
// codes and trusted-device tokens are removed with it: both only exist
// relative to an enrolled second factor.
func (s *Service) DisableTOTP(ctx context.Context, p *Principal, password string, meta RequestMeta) error {
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnrolled() {
		return ErrTwoFactorNotEnrolled
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	if err := s.users.ClearTOTP(ctx, user.ID); err != nil {
		return err
	}
	if err := s.backupCodes.DeleteForUser(ctx, user.ID); err != nil {
		return err
	}
	if err := s.devices.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Warn("revoking device tokens after 2fa disable failed",
			"user_id", user.ID, "error", err)
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionTwoFactorDisabled,
		EntityType:  "user",
		EntityID:    user.ID,
		Actor:       actorFromPrincipal(p),
		CompanyID:   user.CompanyID,
		StoreID:     user.StoreID,
		Description: "two-factor authentication disabled",
		Metadata:    map[string]any{"ip": meta.IP},
		Severity:    audit.SeverityWarning,
	})
	return nil
}

// RegenerateBackupCodes replaces the caller's backup codes with a fresh
// set. Every previous code stops working, consumed or not.
func (s *Service) RegenerateBackupCodes(ctx context.Context, p *Principal, meta RequestMeta) ([]string, error) {
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactorEnrolled() {
		return nil, ErrTwoFactorNotEnrolled
	}

	codes, err := s.replaceBackupCodes(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionBackupCodesRegenerated,
		EntityType:  "user",
		EntityID:    user.ID,
		Actor:       actorFromPrincipal(p),
		CompanyID:   user.CompanyID,
		StoreID:     user.StoreID,
		Description: "backup codes regenerated",
		Metadata:    map[string]any{"backup_code_count": len(codes), "ip": meta.IP},
		Severity:    audit.SeverityInfo,
	})

	return codes, nil
}

// replaceBackupCodes mints a new code set and stores only the hashes.
func (s *Service) replaceBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = HashToken(c)
	}
	if err := s.backupCodes.Replace(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// formatManualKey groups the base32 secret into blocks of four for
// keyboard entry.
func formatManualKey(secret string) string {
	var b strings.Builder
	for i := 0; i < len(secret); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(secret) {
			end = len(secret)
		}
		b.WriteString(secret[i:end])
	}
	return b.String()
}
