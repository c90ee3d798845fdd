package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/metrics"
	"github.com/law4percent/Chick-Up/internal/store"
)

// DefaultCooldown lockout after a dispatch
const DefaultCooldown = 3 * time.Second

// ActionArchive durable copy of dispatched actions
type ActionArchive interface {
	Insert(ctx context.Context, log domain.ActionLog) error
}

// CommandPublisher forwards a dispatched action to the device
type CommandPublisher interface {
	PublishCommand(ctx context.Context, deviceID string, log domain.ActionLog) error
}

// CooldownListener called when an action becomes available again
type CooldownListener func(userID, deviceID string, actuator domain.ActuatorType)

type cooldownKey struct {
	userID   string
	deviceID string
	actuator domain.ActuatorType
}

// ActionService dispatches refill/dispense commands under a per-type cooldown
type ActionService struct {
	store    store.Store
	logger   *zap.Logger
	cooldown time.Duration
	location *time.Location
	now      func() time.Time

	archive   ActionArchive
	publisher CommandPublisher
	metrics   *metrics.Metrics
	listener  CooldownListener

	mu        sync.Mutex
	cooldowns map[cooldownKey]time.Time
	timers    map[cooldownKey]*time.Timer
}

// ActionOption configures an ActionService
type ActionOption func(*ActionService)

// WithCooldown overrides DefaultCooldown
func WithCooldown(d time.Duration) ActionOption {
	return func(s *ActionService) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithLocation time zone for the derived date/time/dayOfWeek log fields
func WithLocation(loc *time.Location) ActionOption {
	return func(s *ActionService) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock local clock used only for cooldown bookkeeping
func WithClock(now func() time.Time) ActionOption {
	return func(s *ActionService) { s.now = now }
}

func WithArchive(a ActionArchive) ActionOption {
	return func(s *ActionService) { s.archive = a }
}

func WithCommandPublisher(p CommandPublisher) ActionOption {
	return func(s *ActionService) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) ActionOption {
	return func(s *ActionService) { s.metrics = m }
}

// WithCooldownListener notified (on a timer goroutine) when a cooldown expires
func WithCooldownListener(l CooldownListener) ActionOption {
	return func(s *ActionService) { s.listener = l }
}

// NewActionService creates an ActionService
func NewActionService(st store.Store, logger *zap.Logger, opts ...ActionOption) *ActionService {
	s := &ActionService{
		store:     st,
		logger:    logger,
		cooldown:  DefaultCooldown,
		location:  time.Local,
		now:       time.Now,
		cooldowns: make(map[cooldownKey]time.Time),
		timers:    make(map[cooldownKey]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch logs the action, stamps the actuator with the server clock and
// starts the cooldown. A CooldownError is returned while the previous dispatch
// of the same type is still cooling down. Failed writes release the cooldown.
func (s *ActionService) Dispatch(ctx context.Context, userID, deviceID string, actuator domain.ActuatorType, volumePercent float64) error {
	// 1. validate
	if err := validatePair(userID, deviceID); err != nil {
		s.metrics.ActionDispatched(string(actuator), "invalid")
		return err
	}
	if !actuator.Valid() {
		s.metrics.ActionDispatched(string(actuator), "invalid")
		return &domain.ValidationError{Field: "type", Value: actuator, Reason: "must be water or feed"}
	}
	if err := domain.ValidatePercent("volumePercent", volumePercent); err != nil {
		s.metrics.ActionDispatched(string(actuator), "invalid")
		return err
	}

	// 2. check + reserve
	key := cooldownKey{userID: userID, deviceID: deviceID, actuator: actuator}
	reservedAt := s.now()
	s.mu.Lock()
	if until, ok := s.cooldowns[key]; ok && reservedAt.Before(until) {
		s.mu.Unlock()
		s.metrics.ActionDispatched(string(actuator), "cooldown")
		return &domain.CooldownError{Type: actuator, Remaining: until.Sub(reservedAt)}
	}
	reservation := reservedAt.Add(s.cooldown)
	s.cooldowns[key] = reservation
	s.mu.Unlock()

	rollback := func(err error) error {
		s.mu.Lock()
		if s.cooldowns[key].Equal(reservation) {
			delete(s.cooldowns, key)
		}
		s.mu.Unlock()
		s.metrics.ActionDispatched(string(actuator), "error")
		s.logger.Warn("Action dispatch failed, cooldown released",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.String("type", string(actuator)),
			zap.Error(err),
		)
		return err
	}

	// 3. log entry stamped with the store clock
	at, err := s.store.ServerTime(ctx)
	if err != nil {
		return rollback(err)
	}
	entry := domain.NewActionLog(userID, deviceID, actuator, volumePercent, at, s.location)
	id, err := s.store.Push(ctx, store.ActionLogPath(userID), entry)
	if err != nil {
		return rollback(fmt.Errorf("failed to write action log: %w", err))
	}
	entry.ID = id

	// 4. actuator stamp resolved by the server
	if err := s.store.Update(ctx, store.ActuatorPath(userID, deviceID, actuator), map[string]any{
		"lastUpdateAt": store.ServerTimestamp,
	}); err != nil {
		return rollback(fmt.Errorf("failed to stamp actuator: %w", err))
	}

	// 5. cooldown runs from completion
	s.startCooldown(key, reservation)

	s.metrics.ActionDispatched(string(actuator), "ok")
	s.logger.Info("Action dispatched",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.String("type", string(actuator)),
		zap.String("action", string(entry.Action)),
		zap.Float64("volume_percent", volumePercent),
		zap.String("log_id", id),
	)

	s.forward(ctx, entry)
	return nil
}

func (s *ActionService) startCooldown(key cooldownKey, reservation time.Time) {
	until := s.now().Add(s.cooldown)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cooldowns[key].Equal(reservation) {
		return
	}
	s.cooldowns[key] = until

	if s.listener == nil {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	listener := s.listener
	s.timers[key] = time.AfterFunc(s.cooldown, func() {
		s.mu.Lock()
		if s.cooldowns[key].Equal(until) {
			delete(s.cooldowns, key)
		}
		delete(s.timers, key)
		s.mu.Unlock()
		listener(key.userID, key.deviceID, key.actuator)
	})
}

// forward archive and command fan-out; failures are logged, the dispatch stands
func (s *ActionService) forward(ctx context.Context, entry domain.ActionLog) {
	if s.archive != nil {
		if err := s.archive.Insert(ctx, entry); err != nil {
			s.logger.Warn("Failed to archive action log", zap.String("log_id", entry.ID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishCommand(ctx, entry.DeviceID, entry); err != nil {
			s.logger.Warn("Failed to publish device command",
				zap.String("device_id", entry.DeviceID),
				zap.String("log_id", entry.ID),
				zap.Error(err),
			)
		}
	}
}

// Remaining cooldown for the action; zero when available
func (s *ActionService) Remaining(userID, deviceID string, actuator domain.ActuatorType) time.Duration {
	key := cooldownKey{userID: userID, deviceID: deviceID, actuator: actuator}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.cooldowns[key]
	if !ok || !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

// ListLogs newest first; limit <= 0 returns everything
func (s *ActionService) ListLogs(ctx context.Context, userID string, limit int) ([]domain.ActionLog, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return nil, err
	}
	children, err := s.store.List(ctx, store.ActionLogPath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}

	logs := make([]domain.ActionLog, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		var entry domain.ActionLog
		if err := c.Decode(&entry); err != nil {
			s.logger.Warn("Skipping malformed action log", zap.String("log_id", c.Key), zap.Error(err))
			continue
		}
		entry.ID = c.Key
		logs = append(logs, entry)
	}

	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp > logs[j].Timestamp })
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// Close stops pending cooldown timers
func (s *ActionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
