package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/store"
)

// LinkPolicy how a second user linking an owned device is handled
type LinkPolicy string

const (
	// PolicyLastWriterWins any user may link any registered device; the latest link wins
	PolicyLastWriterWins LinkPolicy = "last-writer-wins"
	// PolicySingleOwner a device belongs to one user until unlinked
	PolicySingleOwner LinkPolicy = "single-owner"
)

// DeviceLinkService binds a user to exactly one registered device
type DeviceLinkService struct {
	store  store.Store
	policy LinkPolicy
	logger *zap.Logger
}

// NewDeviceLinkService creates the link registry; unknown policies fall back to last-writer-wins
func NewDeviceLinkService(st store.Store, policy LinkPolicy, logger *zap.Logger) *DeviceLinkService {
	if policy != PolicySingleOwner {
		policy = PolicyLastWriterWins
	}
	return &DeviceLinkService{
		store:  st,
		policy: policy,
		logger: logger,
	}
}

// RegisterDevice adds the device to the registry if missing (device side)
func (s *DeviceLinkService) RegisterDevice(ctx context.Context, deviceID, model string) (bool, error) {
	if err := domain.ValidateID("deviceId", deviceID); err != nil {
		return false, err
	}
	created, err := s.store.SetIfAbsent(ctx, store.DevicePath(deviceID), map[string]any{
		"deviceId":     deviceID,
		"model":        model,
		"registeredAt": store.ServerTimestamp,
	})
	if err != nil {
		return false, fmt.Errorf("failed to register device: %w", err)
	}
	if created {
		s.logger.Info("Device registered", zap.String("device_id", deviceID), zap.String("model", model))
	}
	return created, nil
}

// VerifyDevice reports whether the device is registered. Absence is (false, nil);
// a failed read is a TransportError.
func (s *DeviceLinkService) VerifyDevice(ctx context.Context, deviceID string) (bool, error) {
	if err := domain.ValidateID("deviceId", deviceID); err != nil {
		return false, err
	}
	exists, err := s.store.Exists(ctx, store.DevicePath(deviceID))
	if err != nil {
		return false, fmt.Errorf("failed to verify device %s: %w", deviceID, err)
	}
	return exists, nil
}

// LinkDevice records deviceID as the user's device, replacing any previous link
func (s *DeviceLinkService) LinkDevice(ctx context.Context, userID, deviceID string) error {
	// 1. validate
	if err := domain.ValidateID("userId", userID); err != nil {
		return err
	}
	if err := domain.ValidateID("deviceId", deviceID); err != nil {
		return err
	}

	// 2. previous link, released after the new one is written
	previous, err := s.GetLinkedDevice(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return err
	}
	owner := domain.DeviceOwner{UserID: userID, LinkedAt: now.UnixMilli()}
	ownerPath := store.DeviceOwnerPath(deviceID)

	// 3. claim the reverse index
	claimed := false
	switch s.policy {
	case PolicySingleOwner:
		claimed, err = s.store.SetIfAbsent(ctx, ownerPath, owner)
		if err != nil {
			return fmt.Errorf("failed to claim device: %w", err)
		}
		if !claimed {
			var current domain.DeviceOwner
			if err := s.store.Get(ctx, ownerPath, &current); err != nil {
				return fmt.Errorf("failed to read device owner: %w", err)
			}
			if current.UserID != userID {
				s.logger.Warn("Device already linked to another user",
					zap.String("user_id", userID),
					zap.String("device_id", deviceID),
				)
				return fmt.Errorf("device %s: %w", deviceID, domain.ErrAlreadyLinked)
			}
		}
	default:
		if err := s.store.Set(ctx, ownerPath, owner); err != nil {
			return fmt.Errorf("failed to write device owner: %w", err)
		}
	}

	// 4. forward link
	link := domain.DeviceLink{DeviceID: deviceID, LinkedAt: now.UnixMilli()}
	if err := s.store.Set(ctx, store.LinkedDevicePath(userID), link); err != nil {
		if claimed {
			if rbErr := s.store.Delete(ctx, ownerPath); rbErr != nil {
				s.logger.Error("Failed to roll back device claim", zap.String("device_id", deviceID), zap.Error(rbErr))
			}
		}
		return fmt.Errorf("failed to link device: %w", err)
	}

	if previous != "" && previous != deviceID {
		s.releaseOwner(ctx, userID, previous)
	}

	s.logger.Info("Device linked",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.String("policy", string(s.policy)),
	)
	return nil
}

// GetLinkedDevice returns the user's device id; ErrNotFound when not linked
func (s *DeviceLinkService) GetLinkedDevice(ctx context.Context, userID string) (string, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return "", err
	}
	var link domain.DeviceLink
	if err := s.store.Get(ctx, store.LinkedDevicePath(userID), &link); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("user %s has no linked device: %w", userID, domain.ErrNotFound)
		}
		return "", err
	}
	if link.DeviceID == "" {
		return "", fmt.Errorf("user %s has no linked device: %w", userID, domain.ErrNotFound)
	}
	return link.DeviceID, nil
}

// GetOwner user currently linked to the device (device side); ErrNotFound when unowned
func (s *DeviceLinkService) GetOwner(ctx context.Context, deviceID string) (string, error) {
	if err := domain.ValidateID("deviceId", deviceID); err != nil {
		return "", err
	}
	var owner domain.DeviceOwner
	if err := s.store.Get(ctx, store.DeviceOwnerPath(deviceID), &owner); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("device %s has no owner: %w", deviceID, domain.ErrNotFound)
		}
		return "", err
	}
	if owner.UserID == "" {
		return "", fmt.Errorf("device %s has no owner: %w", deviceID, domain.ErrNotFound)
	}
	return owner.UserID, nil
}

// LinkedDeviceOrNone empty string when not linked or when the read failed
func (s *DeviceLinkService) LinkedDeviceOrNone(ctx context.Context, userID string) string {
	deviceID, err := s.GetLinkedDevice(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("Failed to read linked device", zap.String("user_id", userID), zap.Error(err))
		}
		return ""
	}
	return deviceID
}

// PairDevice verifies the device exists, then links it
func (s *DeviceLinkService) PairDevice(ctx context.Context, userID, deviceID string) error {
	if err := domain.ValidateID("userId", userID); err != nil {
		return err
	}
	exists, err := s.VerifyDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	return s.LinkDevice(ctx, userID, deviceID)
}

// UnlinkDevice removes the user's link; unlinking an unlinked user is a no-op
func (s *DeviceLinkService) UnlinkDevice(ctx context.Context, userID string) error {
	deviceID, err := s.GetLinkedDevice(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.Delete(ctx, store.LinkedDevicePath(userID)); err != nil {
		return fmt.Errorf("failed to unlink device: %w", err)
	}
	s.releaseOwner(ctx, userID, deviceID)

	s.logger.Info("Device unlinked", zap.String("user_id", userID), zap.String("device_id", deviceID))
	return nil
}

// releaseOwner drops the reverse entry if it still names userID
func (s *DeviceLinkService) releaseOwner(ctx context.Context, userID, deviceID string) {
	var owner domain.DeviceOwner
	if err := s.store.Get(ctx, store.DeviceOwnerPath(deviceID), &owner); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("Failed to read device owner", zap.String("device_id", deviceID), zap.Error(err))
		}
		return
	}
	if owner.UserID != userID {
		return
	}
	if err := s.store.Delete(ctx, store.DeviceOwnerPath(deviceID)); err != nil {
		s.logger.Warn("Failed to release device owner", zap.String("device_id", deviceID), zap.Error(err))
	}
}
