package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/evaluator"
	"github.com/law4percent/Chick-Up/internal/metrics"
	"github.com/law4percent/Chick-Up/internal/store"
)

// Evaluation one alert evaluation with its inputs
type Evaluation struct {
	Snapshot domain.TelemetrySnapshot
	Settings domain.Settings
	Result   evaluator.Result
	// Changed is true when Kind differs from the previous evaluation
	Changed bool
}

// MonitorService re-evaluates alerts on every telemetry or settings change
type MonitorService struct {
	telemetry  *TelemetryService
	settings   *SettingsService
	actions    *ActionService
	autoRefill bool
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewMonitorService creates a MonitorService; actions is required only with autoRefill
func NewMonitorService(telemetry *TelemetryService, settings *SettingsService, actions *ActionService, autoRefill bool, m *metrics.Metrics, logger *zap.Logger) *MonitorService {
	return &MonitorService{
		telemetry:  telemetry,
		settings:   settings,
		actions:    actions,
		autoRefill: autoRefill && actions != nil,
		metrics:    m,
		logger:     logger,
	}
}

// Watch calls onEval after both telemetry and settings are known and then
// after each change of either. Missing settings evaluate against defaults.
func (s *MonitorService) Watch(ctx context.Context, userID, deviceID string, onEval func(Evaluation), onError func(error)) (*store.Subscription, error) {
	z := newSerializer(ctx)

	var (
		snap         domain.TelemetrySnapshot
		settings     domain.Settings
		haveSnap     bool
		haveSettings bool
		lastKind     evaluator.AlertKind
	)

	evaluate := func() {
		if !haveSnap || !haveSettings {
			return
		}
		result := evaluator.Evaluate(snap, settings)
		ev := Evaluation{Snapshot: snap, Settings: settings, Result: result, Changed: result.Kind != lastKind}
		lastKind = result.Kind

		if ev.Changed && result.Alert() && snap.Available {
			s.metrics.AlertRaised(string(result.Kind))
			s.logger.Warn("Low level alert",
				zap.String("user_id", userID),
				zap.String("device_id", deviceID),
				zap.String("kind", string(result.Kind)),
				zap.Float64("water_level", snap.WaterLevel),
				zap.Float64("feed_level", snap.FeedLevel),
			)
		}
		if onEval != nil {
			onEval(ev)
		}
		if s.autoRefill && evaluator.AutoRefillDue(snap, settings) {
			s.refill(z.ctx, userID, deviceID, evaluator.AutoRefillVolume(snap, settings))
		}
	}
	fail := func(err error) {
		s.metrics.StoreError("monitor")
		z.post(func() {
			if onError != nil {
				onError(err)
			}
		})
	}

	telemetrySub, err := s.telemetry.Subscribe(z.ctx, userID, deviceID, func(t domain.TelemetrySnapshot) {
		z.post(func() {
			snap, haveSnap = t, true
			evaluate()
		})
	}, fail)
	if err != nil {
		z.cancel()
		return nil, err
	}

	settingsSub, err := s.settings.Subscribe(z.ctx, userID, func(st domain.Settings, ok bool) {
		if !ok {
			st = domain.DefaultSettings()
		}
		z.post(func() {
			settings, haveSettings = st, true
			evaluate()
		})
	}, fail)
	if err != nil {
		z.cancel()
		return nil, err
	}

	combined := store.Combine(telemetrySub, settingsSub)
	go z.run(combined)
	return combined, nil
}

// Check one-shot evaluation
func (s *MonitorService) Check(ctx context.Context, userID, deviceID string) (evaluator.Result, error) {
	snap, err := s.telemetry.Get(ctx, userID, deviceID)
	if err != nil {
		return evaluator.Result{}, fmt.Errorf("failed to read telemetry: %w", err)
	}
	settings, err := s.settings.GetOrDefault(ctx, userID)
	if err != nil {
		return evaluator.Result{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return evaluator.Evaluate(snap, settings), nil
}

func (s *MonitorService) refill(ctx context.Context, userID, deviceID string, volume float64) {
	if volume <= 0 {
		return
	}
	err := s.actions.Dispatch(ctx, userID, deviceID, domain.ActuatorWater, volume)
	switch {
	case err == nil:
		s.logger.Info("Auto-refill dispatched", zap.String("device_id", deviceID), zap.Float64("volume_percent", volume))
	case errors.Is(err, domain.ErrCooldown), errors.Is(err, context.Canceled):
	default:
		s.logger.Warn("Auto-refill failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}
