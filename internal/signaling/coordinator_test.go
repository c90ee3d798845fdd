package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/store"
)

type peerPool struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (p *peerPool) factory() (PeerConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	peer := &fakePeer{}
	p.peers = append(p.peers, peer)
	return peer, nil
}

func (p *peerPool) get(i int) *fakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers[i]
}

func TestCoordinator_ReplacesSession(t *testing.T) {
	st, _ := setupTestStore(t)
	pool := &peerPool{}
	c := NewCoordinator(st, pool.factory, 0, nil, zap.NewNop())
	t.Cleanup(c.StopAll)
	ctx := context.Background()

	first, err := c.StartSession(ctx, testUser, testDevice, Callbacks{})
	require.NoError(t, err)
	second, err := c.StartSession(ctx, testUser, testDevice, Callbacks{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	<-first.Done()
	assert.Equal(t, 1, pool.get(0).closeCount())
	assert.Same(t, second, c.Session(testUser, testDevice))

	// the live offer belongs to the replacement
	var offer SessionDescription
	require.NoError(t, st.Get(ctx, store.SignalingPaths(testUser, testDevice).Offer, &offer))
	assert.Equal(t, second.ID(), offer.SessionID)
}

func TestCoordinator_StaleStopKeepsReplacementKeys(t *testing.T) {
	st, _ := setupTestStore(t)
	pool := &peerPool{}
	c := NewCoordinator(st, pool.factory, 0, nil, zap.NewNop())
	t.Cleanup(c.StopAll)
	ctx := context.Background()
	keys := store.SignalingPaths(testUser, testDevice)

	first, err := c.StartSession(ctx, testUser, testDevice, Callbacks{})
	require.NoError(t, err)
	second, err := c.StartSession(ctx, testUser, testDevice, Callbacks{})
	require.NoError(t, err)
	_, err = st.Push(ctx, keys.DeviceCandidates, map[string]any{"candidate": "candidate:9", "sessionId": second.ID()})
	require.NoError(t, err)

	// a deferred Stop on the replaced handle
	first.Stop()

	var offer SessionDescription
	require.NoError(t, st.Get(ctx, keys.Offer, &offer))
	assert.Equal(t, second.ID(), offer.SessionID)
	assert.Equal(t, 1, listCount(t, st, keys.DeviceCandidates))
	assert.IsType(t, Offered{}, second.Phase())
	assert.Equal(t, StateConnecting, readState(t, st).ConnectionState)
	assert.Equal(t, 0, pool.get(1).closeCount())
}

func TestCoordinator_SessionRemovedWhenDone(t *testing.T) {
	st, _ := setupTestStore(t)
	pool := &peerPool{}
	c := NewCoordinator(st, pool.factory, 0, nil, zap.NewNop())

	sess, err := c.StartSession(context.Background(), testUser, testDevice, Callbacks{})
	require.NoError(t, err)

	pool.get(0).emitState(StateFailed)
	<-sess.Done()
	assert.Eventually(t, func() bool { return c.Session(testUser, testDevice) == nil }, waitFor, tick)
}

func TestCoordinator_StopSessionWithoutSessionPurges(t *testing.T) {
	st, _ := setupTestStore(t)
	keys := store.SignalingPaths(testUser, testDevice)
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, keys.Offer, map[string]any{"type": TypeOffer, "sdp": "left over"}))

	c := NewCoordinator(st, (&peerPool{}).factory, 0, nil, zap.NewNop())
	require.NoError(t, c.StopSession(ctx, testUser, testDevice))
	assert.True(t, negotiationEmpty(t, st))
}

func TestCoordinator_StopAll(t *testing.T) {
	st, _ := setupTestStore(t)
	c := NewCoordinator(st, (&peerPool{}).factory, time.Minute, nil, zap.NewNop())
	ctx := context.Background()

	a, err := c.StartSession(ctx, testUser, testDevice, Callbacks{})
	require.NoError(t, err)
	b, err := c.StartSession(ctx, testUser, "D2", Callbacks{})
	require.NoError(t, err)

	c.StopAll()
	<-a.Done()
	<-b.Done()
	assert.Nil(t, c.Session(testUser, testDevice))
	assert.Nil(t, c.Session(testUser, "D2"))
}

func TestCoordinator_Errors(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	c := NewCoordinator(st, (&peerPool{err: errors.New("no media engine")}).factory, 0, nil, zap.NewNop())
	_, err := c.StartSession(ctx, testUser, testDevice, Callbacks{})
	assert.ErrorIs(t, err, domain.ErrSignalingFailure)

	_, err = c.StartSession(ctx, "", testDevice, Callbacks{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
