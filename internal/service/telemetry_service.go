package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/store"
)

// TelemetryService live mirror of a device's levels and actuator stamps
type TelemetryService struct {
	store  store.Store
	logger *zap.Logger
}

// NewTelemetryService creates a TelemetryService
func NewTelemetryService(st store.Store, logger *zap.Logger) *TelemetryService {
	return &TelemetryService{
		store:  st,
		logger: logger,
	}
}

type telemetryState struct {
	levels      *domain.SensorLevels
	water, feed domain.ActuatorState
	primed      [3]bool
}

func (st *telemetryState) ready() bool {
	return st.primed[0] && st.primed[1] && st.primed[2]
}

// Subscribe delivers the combined snapshot once levels and both actuators have
// reported, then again on every change. Close the returned handle (or cancel
// ctx) to stop.
func (s *TelemetryService) Subscribe(ctx context.Context, userID, deviceID string, onData func(domain.TelemetrySnapshot), onError func(error)) (*store.Subscription, error) {
	if err := validatePair(userID, deviceID); err != nil {
		return nil, err
	}

	z := newSerializer(ctx)
	state := &telemetryState{}
	emit := func() {
		if state.ready() {
			onData(domain.NewTelemetrySnapshot(state.levels, state.water, state.feed))
		}
	}
	fail := func(err error) {
		z.post(func() {
			if onError != nil {
				onError(err)
			}
		})
	}

	levelsSub, err := s.store.Subscribe(z.ctx, store.TelemetryPath(userID, deviceID), func(snap store.Snapshot) {
		var levels *domain.SensorLevels
		if snap.Exists() {
			levels = &domain.SensorLevels{}
			if err := snap.Decode(levels); err != nil {
				fail(err)
				return
			}
		}
		z.post(func() {
			state.levels = levels
			state.primed[0] = true
			emit()
		})
	}, fail)
	if err != nil {
		z.cancel()
		return nil, fmt.Errorf("failed to subscribe to telemetry: %w", err)
	}

	subs := []*store.Subscription{levelsSub}
	for i, typ := range []domain.ActuatorType{domain.ActuatorWater, domain.ActuatorFeed} {
		slot, typ := i+1, typ
		sub, err := s.store.Subscribe(z.ctx, store.ActuatorPath(userID, deviceID, typ), func(snap store.Snapshot) {
			var act domain.ActuatorState
			if snap.Exists() {
				if err := snap.Decode(&act); err != nil {
					fail(err)
					return
				}
			}
			z.post(func() {
				if typ == domain.ActuatorWater {
					state.water = act
				} else {
					state.feed = act
				}
				state.primed[slot] = true
				emit()
			})
		}, fail)
		if err != nil {
			z.cancel()
			return nil, fmt.Errorf("failed to subscribe to %s actuator: %w", typ, err)
		}
		subs = append(subs, sub)
	}

	combined := store.Combine(subs...)
	go z.run(combined)

	s.logger.Debug("Telemetry subscription started", zap.String("user_id", userID), zap.String("device_id", deviceID))
	return combined, nil
}

// Get one-shot read of the combined snapshot
func (s *TelemetryService) Get(ctx context.Context, userID, deviceID string) (domain.TelemetrySnapshot, error) {
	if err := validatePair(userID, deviceID); err != nil {
		return domain.TelemetrySnapshot{}, err
	}

	var levels *domain.SensorLevels
	var raw domain.SensorLevels
	switch err := s.store.Get(ctx, store.TelemetryPath(userID, deviceID), &raw); {
	case err == nil:
		levels = &raw
	case !errors.Is(err, domain.ErrNotFound):
		return domain.TelemetrySnapshot{}, err
	}

	var water, feed domain.ActuatorState
	if err := s.store.Get(ctx, store.ActuatorPath(userID, deviceID, domain.ActuatorWater), &water); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.TelemetrySnapshot{}, err
	}
	if err := s.store.Get(ctx, store.ActuatorPath(userID, deviceID, domain.ActuatorFeed), &feed); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.TelemetrySnapshot{}, err
	}

	return domain.NewTelemetrySnapshot(levels, water, feed), nil
}

// InitializeIfAbsent writes a zeroed snapshot and zeroed actuator stamps where
// nothing exists yet. Existing device data is never overwritten.
func (s *TelemetryService) InitializeIfAbsent(ctx context.Context, userID, deviceID string) (bool, error) {
	if err := validatePair(userID, deviceID); err != nil {
		return false, err
	}

	created, err := s.store.SetIfAbsent(ctx, store.TelemetryPath(userID, deviceID), map[string]any{
		"waterLevel": 0,
		"feedLevel":  0,
		"updatedAt":  store.ServerTimestamp,
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	for _, typ := range []domain.ActuatorType{domain.ActuatorWater, domain.ActuatorFeed} {
		if _, err := s.store.SetIfAbsent(ctx, store.ActuatorPath(userID, deviceID, typ), domain.ActuatorState{}); err != nil {
			return created, fmt.Errorf("failed to initialize %s actuator: %w", typ, err)
		}
	}

	if created {
		s.logger.Info("Telemetry initialized", zap.String("user_id", userID), zap.String("device_id", deviceID))
	}
	return created, nil
}

// ReportDistances device-side write: converts two ultrasonic readings into
// fill percents and merges them into the telemetry record, stamped with the
// store clock
func (s *TelemetryService) ReportDistances(ctx context.Context, userID, deviceID string, waterCM, feedCM float64) (domain.SensorLevels, error) {
	if err := validatePair(userID, deviceID); err != nil {
		return domain.SensorLevels{}, err
	}
	if err := validateDistance("waterDistance", waterCM); err != nil {
		return domain.SensorLevels{}, err
	}
	if err := validateDistance("feedDistance", feedCM); err != nil {
		return domain.SensorLevels{}, err
	}

	levels := domain.SensorLevels{
		WaterLevel: domain.LevelFromDistance(waterCM, domain.MinDistanceCM, domain.MaxDistanceCM),
		FeedLevel:  domain.LevelFromDistance(feedCM, domain.MinDistanceCM, domain.MaxDistanceCM),
	}
	if err := s.store.Update(ctx, store.TelemetryPath(userID, deviceID), map[string]any{
		"waterLevel": levels.WaterLevel,
		"feedLevel":  levels.FeedLevel,
		"updatedAt":  store.ServerTimestamp,
	}); err != nil {
		return domain.SensorLevels{}, fmt.Errorf("failed to write telemetry: %w", err)
	}

	s.logger.Debug("Telemetry reported",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.Float64("water_level", levels.WaterLevel),
		zap.Float64("feed_level", levels.FeedLevel),
	)
	return levels, nil
}

func validateDistance(field string, cm float64) error {
	if math.IsNaN(cm) || math.IsInf(cm, 0) || cm < 0 {
		return &domain.ValidationError{Field: field, Value: cm, Reason: "must be a non-negative distance in cm"}
	}
	return nil
}

func validatePair(userID, deviceID string) error {
	if err := domain.ValidateID("userId", userID); err != nil {
		return err
	}
	return domain.ValidateID("deviceId", deviceID)
}
