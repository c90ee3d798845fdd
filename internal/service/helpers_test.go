package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/store"
)

var serverNow = time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	mr.SetTime(serverNow)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, "test:", zap.NewNop()), mr
}

// faultyStore fails selected operations on demand
type faultyStore struct {
	store.Store
	mu         sync.Mutex
	failPush   bool
	failUpdate bool
}

var errInjected = errors.New("injected failure")

func (f *faultyStore) set(push, update bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPush, f.failUpdate = push, update
}

func (f *faultyStore) Push(ctx context.Context, path string, value any) (string, error) {
	f.mu.Lock()
	fail := f.failPush
	f.mu.Unlock()
	if fail {
		return "", domain.NewTransportError("push", path, errInjected)
	}
	return f.Store.Push(ctx, path, value)
}

func (f *faultyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	f.mu.Lock()
	fail := f.failUpdate
	f.mu.Unlock()
	if fail {
		return domain.NewTransportError("update", path, errInjected)
	}
	return f.Store.Update(ctx, path, fields)
}

// fakeClock manual clock for cooldown timelines
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func registerDevice(t *testing.T, st store.Store, deviceID string) {
	t.Helper()
	_, err := st.SetIfAbsent(context.Background(), store.DevicePath(deviceID), domain.DeviceRecord{DeviceID: deviceID})
	require.NoError(t, err)
}
