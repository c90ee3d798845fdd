package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/store"
)

// ScheduleService recurring feed schedules stored under schedules/{userId}
type ScheduleService struct {
	store   store.Store
	actions *ActionService
	logger  *zap.Logger

	mu    sync.Mutex
	fired map[string]string // schedule id -> minute key last fired
}

// NewScheduleService creates a ScheduleService; actions may be nil when RunDue is not used
func NewScheduleService(st store.Store, actions *ActionService, logger *zap.Logger) *ScheduleService {
	return &ScheduleService{
		store:   st,
		actions: actions,
		logger:  logger,
		fired:   make(map[string]string),
	}
}

// Create assigns an id and timestamps, then stores the schedule
func (s *ScheduleService) Create(ctx context.Context, userID string, schedule domain.FeedSchedule) (domain.FeedSchedule, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return domain.FeedSchedule{}, err
	}
	if err := schedule.Validate(); err != nil {
		return domain.FeedSchedule{}, err
	}

	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return domain.FeedSchedule{}, err
	}
	schedule.ID = uuid.New().String()
	schedule.CreatedAt = now.UnixMilli()
	schedule.UpdatedAt = schedule.CreatedAt

	if err := s.store.Update(ctx, store.SchedulePath(userID), map[string]any{schedule.ID: schedule}); err != nil {
		return domain.FeedSchedule{}, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.logger.Info("Feed schedule created",
		zap.String("user_id", userID),
		zap.String("schedule_id", schedule.ID),
		zap.String("time", schedule.Time),
	)
	return schedule, nil
}

// Get ErrNotFound when the id is unknown
func (s *ScheduleService) Get(ctx context.Context, userID, scheduleID string) (domain.FeedSchedule, error) {
	schedules, err := s.List(ctx, userID)
	if err != nil {
		return domain.FeedSchedule{}, err
	}
	for _, sc := range schedules {
		if sc.ID == scheduleID {
			return sc, nil
		}
	}
	return domain.FeedSchedule{}, fmt.Errorf("schedule %s: %w", scheduleID, domain.ErrNotFound)
}

// List ordered by time of day
func (s *ScheduleService) List(ctx context.Context, userID string) ([]domain.FeedSchedule, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return nil, err
	}
	children, err := s.store.List(ctx, store.SchedulePath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return s.decode(children), nil
}

// Update replaces an existing schedule, keeping id and createdAt
func (s *ScheduleService) Update(ctx context.Context, userID string, schedule domain.FeedSchedule) (domain.FeedSchedule, error) {
	if err := schedule.Validate(); err != nil {
		return domain.FeedSchedule{}, err
	}
	current, err := s.Get(ctx, userID, schedule.ID)
	if err != nil {
		return domain.FeedSchedule{}, err
	}

	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return domain.FeedSchedule{}, err
	}
	schedule.CreatedAt = current.CreatedAt
	schedule.UpdatedAt = now.UnixMilli()

	if err := s.store.Update(ctx, store.SchedulePath(userID), map[string]any{schedule.ID: schedule}); err != nil {
		return domain.FeedSchedule{}, fmt.Errorf("failed to update schedule: %w", err)
	}
	return schedule, nil
}

// SetEnabled toggles a schedule
func (s *ScheduleService) SetEnabled(ctx context.Context, userID, scheduleID string, enabled bool) (domain.FeedSchedule, error) {
	current, err := s.Get(ctx, userID, scheduleID)
	if err != nil {
		return domain.FeedSchedule{}, err
	}
	current.Enabled = enabled
	return s.Update(ctx, userID, current)
}

// Delete removes a schedule; unknown ids are ignored
func (s *ScheduleService) Delete(ctx context.Context, userID, scheduleID string) error {
	if err := domain.ValidateID("userId", userID); err != nil {
		return err
	}
	if err := s.store.DeleteFields(ctx, store.SchedulePath(userID), scheduleID); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// Subscribe delivers the full schedule list on every change
func (s *ScheduleService) Subscribe(ctx context.Context, userID string, onData func([]domain.FeedSchedule), onError func(error)) (*store.Subscription, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, store.SchedulePath(userID), func(snap store.Snapshot) {
		onData(s.decode(snap.Children()))
	}, onError)
}

// RunDue dispatches feed for every schedule due at now. Each schedule fires at
// most once per minute, however often RunDue is called.
func (s *ScheduleService) RunDue(ctx context.Context, userID, deviceID string, now time.Time, loc *time.Location) (int, error) {
	if s.actions == nil {
		return 0, errors.New("schedule runner has no action service")
	}
	schedules, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	if loc == nil {
		loc = time.Local
	}
	minute := now.In(loc).Format("2006-01-02T15:04")

	fired := 0
	for _, sc := range schedules {
		if !sc.IsDue(now, loc) {
			continue
		}
		s.mu.Lock()
		already := s.fired[sc.ID] == minute
		if !already {
			s.fired[sc.ID] = minute
		}
		s.mu.Unlock()
		if already {
			continue
		}

		err := s.actions.Dispatch(ctx, userID, deviceID, domain.ActuatorFeed, sc.VolumePercent)
		switch {
		case err == nil:
			fired++
		case errors.Is(err, domain.ErrCooldown):
			s.logger.Info("Scheduled feed skipped, cooling down", zap.String("schedule_id", sc.ID))
		default:
			// allow a retry within the same minute
			s.mu.Lock()
			delete(s.fired, sc.ID)
			s.mu.Unlock()
			return fired, fmt.Errorf("scheduled feed %s: %w", sc.ID, err)
		}
	}
	return fired, nil
}

func (s *ScheduleService) decode(children []store.Child) []domain.FeedSchedule {
	out := make([]domain.FeedSchedule, 0, len(children))
	for _, c := range children {
		var sc domain.FeedSchedule
		if err := c.Decode(&sc); err != nil {
			s.logger.Warn("Skipping malformed schedule", zap.String("schedule_id", c.Key), zap.Error(err))
			continue
		}
		if sc.ID == "" {
			sc.ID = c.Key
		}
		out = append(out, sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
