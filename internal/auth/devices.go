package auth

import (
	"context"

	"github.com/storekeep/storekeep-core/internal/audit"
)

// ListDevices returns the target user's live trusted devices. Users
// list their own; admins list accounts they manage.
func (s *Service) ListDevices(ctx context.Context, actor *Principal, userID string) ([]DeviceToken, error) {
	if err := s.checkDeviceAccess(ctx, actor, userID); err != nil {
		return nil, err
	}
	return s.devices.ListActiveByUser(ctx, userID)
}

// RevokeDevice withdraws trust from a single device. The token stops
// skipping the second factor immediately.
func (s *Service) RevokeDevice(ctx context.Context, actor *Principal, userID, deviceID string, meta RequestMeta) error {
	if err := s.checkDeviceAccess(ctx, actor, userID); err != nil {
		return err
	}

	if err := s.devices.Revoke(ctx, deviceID, userID); err != nil {
		return err
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionDeviceRevoked,
		EntityType:  "device_token",
		EntityID:    deviceID,
		Actor:       actorFromPrincipal(actor),
		CompanyID:   actor.CompanyID,
		StoreID:     actor.StoreID,
		Description: "trusted device revoked",
		Metadata:    map[string]any{"user_id": userID, "ip": meta.IP},
		Severity:    audit.SeverityInfo,
	})
	return nil
}

// RevokeAllDevices withdraws trust from every device of the target
// user at once.
func (s *Service) RevokeAllDevices(ctx context.Context, actor *Principal, userID string, meta RequestMeta) error {
	if err := s.checkDeviceAccess(ctx, actor, userID); err != nil {
		return err
	}

	if err := s.devices.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}

	s.auditor.Record(audit.Entry{
		Action:      audit.ActionDevicesRevokedAll,
		EntityType:  "user",
		EntityID:    userID,
		Actor:       actorFromPrincipal(actor),
		CompanyID:   actor.CompanyID,
		StoreID:     actor.StoreID,
		Description: "all trusted devices revoked",
		Metadata:    map[string]any{"ip": meta.IP},
		Severity:    audit.SeverityWarning,
	})
	return nil
}

// checkDeviceAccess allows self-service or management access to a
// user's trusted devices.
func (s *Service) checkDeviceAccess(ctx context.Context, actor *Principal, userID string) error {
	if actor.UserID == userID {
		return nil
	}

	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !canManageUser(actor, target) {
		return ErrUnauthorized
	}
	return nil
}
