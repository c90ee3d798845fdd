package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/store"
)

// SettingsService per-user thresholds and auto-refill policy
type SettingsService struct {
	store  store.Store
	logger *zap.Logger
}

// NewSettingsService creates a SettingsService
func NewSettingsService(st store.Store, logger *zap.Logger) *SettingsService {
	return &SettingsService{
		store:  st,
		logger: logger,
	}
}

// Subscribe delivers settings on every change; ok is false while none are stored
func (s *SettingsService) Subscribe(ctx context.Context, userID string, onData func(settings domain.Settings, ok bool), onError func(error)) (*store.Subscription, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return nil, err
	}
	sub, err := s.store.Subscribe(ctx, store.SettingsPath(userID), func(snap store.Snapshot) {
		if !snap.Exists() {
			onData(domain.Settings{}, false)
			return
		}
		var settings domain.Settings
		if err := snap.Decode(&settings); err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onData(settings, true)
	}, onError)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to settings: %w", err)
	}
	return sub, nil
}

// Get ErrNotFound when the user has no settings yet
func (s *SettingsService) Get(ctx context.Context, userID string) (domain.Settings, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return domain.Settings{}, err
	}
	var settings domain.Settings
	if err := s.store.Get(ctx, store.SettingsPath(userID), &settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

// GetOrDefault falls back to DefaultSettings when none are stored
func (s *SettingsService) GetOrDefault(ctx context.Context, userID string) (domain.Settings, error) {
	settings, err := s.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultSettings(), nil
	}
	return settings, err
}

// InitializeIfAbsent stores the defaults for a new user
func (s *SettingsService) InitializeIfAbsent(ctx context.Context, userID string) (bool, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return false, err
	}
	defaults := domain.DefaultSettings()
	created, err := s.store.SetIfAbsent(ctx, store.SettingsPath(userID), map[string]any{
		"feed":      defaults.Feed,
		"water":     defaults.Water,
		"updatedAt": store.ServerTimestamp,
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize settings: %w", err)
	}
	return created, nil
}

// Update validates the patch, merges feed and water field by field into the
// current settings (defaults when absent), stamps updatedAt and writes the whole.
func (s *SettingsService) Update(ctx context.Context, userID string, patch domain.SettingsPatch) (domain.Settings, error) {
	// 1. validate before any I/O
	if err := domain.ValidateID("userId", userID); err != nil {
		return domain.Settings{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.Settings{}, err
	}

	// 2. read current
	current, err := s.GetOrDefault(ctx, userID)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	if patch.Empty() {
		return current, nil
	}

	// 3. merge + stamp
	merged := current.Apply(patch)
	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	merged.UpdatedAt = now.UnixMilli()

	// 4. write
	if err := s.store.Set(ctx, store.SettingsPath(userID), merged); err != nil {
		return domain.Settings{}, fmt.Errorf("failed to write settings: %w", err)
	}

	s.logger.Info("Settings updated",
		zap.String("user_id", userID),
		zap.Float64("feed_threshold", merged.Feed.ThresholdPercent),
		zap.Float64("water_threshold", merged.Water.ThresholdPercent),
		zap.Bool("auto_refill", merged.Water.AutoRefillEnabled),
	)
	return merged, nil
}
