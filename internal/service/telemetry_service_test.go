package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/store"
)

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []domain.TelemetrySnapshot
}

func (r *snapshotRecorder) add(s domain.TelemetrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) last() (domain.TelemetrySnapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return domain.TelemetrySnapshot{}, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func TestTelemetryService_InitializeIfAbsent(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()
	svc := NewTelemetryService(st, zap.NewNop())

	created, err := svc.InitializeIfAbsent(ctx, "u1", "D1")
	require.NoError(t, err)
	assert.True(t, created)

	snap, err := svc.Get(ctx, "u1", "D1")
	require.NoError(t, err)
	assert.True(t, snap.Available)
	assert.Equal(t, 0.0, snap.WaterLevel)
	assert.Equal(t, serverNow.UnixMilli(), snap.UpdatedAt)

	// device reports, a second initialize must not stomp it
	require.NoError(t, st.Update(ctx, store.TelemetryPath("u1", "D1"), map[string]any{"waterLevel": 64}))
	created, err = svc.InitializeIfAbsent(ctx, "u1", "D1")
	require.NoError(t, err)
	assert.False(t, created)

	snap, err = svc.Get(ctx, "u1", "D1")
	require.NoError(t, err)
	assert.Equal(t, 64.0, snap.WaterLevel)
}

func TestTelemetryService_GetNeverReported(t *testing.T) {
	st, _ := setupTestStore(t)
	svc := NewTelemetryService(st, zap.NewNop())

	snap, err := svc.Get(context.Background(), "u1", "D1")
	require.NoError(t, err)
	assert.False(t, snap.Available)
}

func TestTelemetryService_ReportDistances(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()
	svc := NewTelemetryService(st, zap.NewNop())

	levels, err := svc.ReportDistances(ctx, "u1", "D1", 155, 5)
	require.NoError(t, err)
	assert.Equal(t, 50.0, levels.WaterLevel)
	assert.Equal(t, 100.0, levels.FeedLevel)

	snap, err := svc.Get(ctx, "u1", "D1")
	require.NoError(t, err)
	assert.True(t, snap.Available)
	assert.Equal(t, 50.0, snap.WaterLevel)
	assert.Equal(t, 100.0, snap.FeedLevel)
	assert.Equal(t, serverNow.UnixMilli(), snap.UpdatedAt)
}

func TestTelemetryService_ReportDistancesRejectsBadReading(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()
	svc := NewTelemetryService(st, zap.NewNop())

	_, err := svc.ReportDistances(ctx, "u1", "D1", -1, 20)
	assert.ErrorIs(t, err, domain.ErrValidation)

	ok, err := st.Exists(ctx, store.TelemetryPath("u1", "D1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTelemetryService_SubscribeCombinesAndClamps(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()
	svc := NewTelemetryService(st, zap.NewNop())
	rec := &snapshotRecorder{}

	require.NoError(t, st.Set(ctx, store.TelemetryPath("u1", "D1"), domain.SensorLevels{WaterLevel: 130, FeedLevel: 40}))

	sub, err := svc.Subscribe(ctx, "u1", "D1", rec.add, func(err error) { t.Errorf("unexpected error: %v", err) })
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { _, n := rec.last(); return n >= 1 }, 2*time.Second, 10*time.Millisecond)
	first, _ := rec.last()
	assert.True(t, first.Available)
	assert.Equal(t, 100.0, first.WaterLevel)
	assert.Equal(t, 40.0, first.FeedLevel)

	require.NoError(t, st.Update(ctx, store.ActuatorPath("u1", "D1", domain.ActuatorFeed), map[string]any{
		"lastUpdateAt": store.ServerTimestamp,
	}))
	require.Eventually(t, func() bool {
		s, _ := rec.last()
		return s.Feed.LastUpdateAt == serverNow.UnixMilli()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, st.Update(ctx, store.TelemetryPath("u1", "D1"), map[string]any{"feedLevel": -3}))
	require.Eventually(t, func() bool {
		s, _ := rec.last()
		return s.FeedLevel == 0 && s.WaterLevel == 100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTelemetryService_CloseStopsDelivery(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()
	svc := NewTelemetryService(st, zap.NewNop())
	rec := &snapshotRecorder{}

	sub, err := svc.Subscribe(ctx, "u1", "D1", rec.add, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, n := rec.last(); return n == 1 }, 2*time.Second, 10*time.Millisecond)

	sub.Close()
	sub.Close()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry subscription did not finish")
	}

	require.NoError(t, st.Set(ctx, store.TelemetryPath("u1", "D1"), domain.SensorLevels{WaterLevel: 5}))
	time.Sleep(50 * time.Millisecond)
	_, n := rec.last()
	assert.Equal(t, 1, n)
}
