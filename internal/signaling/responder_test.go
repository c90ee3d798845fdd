package signaling

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/store"
)

type answererPool struct {
	mu    sync.Mutex
	early []ICECandidate
	peers []*fakePeer
}

func (p *answererPool) factory() (AnsweringPeer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer := &fakePeer{early: p.early}
	p.peers = append(p.peers, peer)
	return peer, nil
}

func (p *answererPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

func (p *answererPool) get(i int) *fakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers[i]
}

func runResponder(t *testing.T, st store.Store, pool *answererPool, max int) *Responder {
	t.Helper()
	r := NewResponder(st, pool.factory, ResponderConfig{UserID: testUser, DeviceID: testDevice, MaxCandidates: max}, nil, zap.NewNop())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(context.Background()) }()
	t.Cleanup(func() {
		r.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("responder did not stop")
		}
	})
	return r
}

func writeOffer(t *testing.T, st store.Store, sdp, sessionID string) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), store.SignalingPaths(testUser, testDevice).Offer, map[string]any{
		"type":      TypeOffer,
		"sdp":       sdp,
		"sessionId": sessionID,
		"timestamp": store.ServerTimestamp,
	}))
}

func readAnswer(st store.Store) (SessionDescription, bool) {
	var answer SessionDescription
	if err := st.Get(context.Background(), store.SignalingPaths(testUser, testDevice).Answer, &answer); err != nil {
		return answer, false
	}
	return answer, true
}

func TestResponder_AnswersOffer(t *testing.T) {
	st, _ := setupTestStore(t)
	pool := &answererPool{}
	runResponder(t, st, pool, 0)

	writeOffer(t, st, "v=0 offer", "s1")
	require.Eventually(t, func() bool {
		_, ok := readAnswer(st)
		return ok
	}, waitFor, tick)

	answer, _ := readAnswer(st)
	assert.Equal(t, TypeAnswer, answer.Type)
	assert.Equal(t, "v=0 answer to v=0 offer", answer.SDP)
	assert.Equal(t, "s1", answer.SessionID)
	assert.Equal(t, 1, pool.count())
}

func TestResponder_CapsDeviceCandidates(t *testing.T) {
	st, _ := setupTestStore(t)
	keys := store.SignalingPaths(testUser, testDevice)
	pool := &answererPool{}
	for i := 0; i < 15; i++ {
		pool.early = append(pool.early, candidate(fmt.Sprintf("candidate:%d", i), ""))
	}
	runResponder(t, st, pool, 0)

	writeOffer(t, st, "v=0 offer", "s1")
	require.Eventually(t, func() bool { return listCount(t, st, keys.DeviceCandidates) == DefaultMaxDeviceCandidates }, waitFor, tick)

	pool.get(0).emitCandidate(candidate("candidate:late", ""))
	assert.Never(t, func() bool { return listCount(t, st, keys.DeviceCandidates) > DefaultMaxDeviceCandidates }, 150*time.Millisecond, tick)

	children, err := st.List(context.Background(), keys.DeviceCandidates)
	require.NoError(t, err)
	var c ICECandidate
	require.NoError(t, children[0].Decode(&c))
	assert.Equal(t, "s1", c.SessionID)
	assert.Equal(t, "candidate:0", c.Candidate)
}

func TestResponder_AppliesViewerCandidates(t *testing.T) {
	st, _ := setupTestStore(t)
	keys := store.SignalingPaths(testUser, testDevice)
	pool := &answererPool{}
	runResponder(t, st, pool, 0)

	writeOffer(t, st, "v=0 offer", "s1")
	require.Eventually(t, func() bool { return pool.count() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { _, ok := readAnswer(st); return ok }, waitFor, tick)

	_, err := st.Push(context.Background(), keys.MobileCandidates, candidate("candidate:viewer", "s1"))
	require.NoError(t, err)
	_, err = st.Push(context.Background(), keys.MobileCandidates, candidate("candidate:stale", "s0"))
	require.NoError(t, err)

	peer := pool.get(0)
	require.Eventually(t, func() bool { return len(peer.addedCandidates()) == 1 }, waitFor, tick)
	assert.Equal(t, "candidate:viewer", peer.addedCandidates()[0].Candidate)
}

func TestResponder_NewOfferReplacesSession(t *testing.T) {
	st, _ := setupTestStore(t)
	pool := &answererPool{}
	runResponder(t, st, pool, 0)

	writeOffer(t, st, "v=0 offer", "s1")
	require.Eventually(t, func() bool { a, ok := readAnswer(st); return ok && a.SessionID == "s1" }, waitFor, tick)

	writeOffer(t, st, "v=0 offer again", "s2")
	require.Eventually(t, func() bool { a, ok := readAnswer(st); return ok && a.SessionID == "s2" }, waitFor, tick)

	assert.Equal(t, 2, pool.count())
	assert.Equal(t, 1, pool.get(0).closeCount())
	assert.Equal(t, 0, pool.get(1).closeCount())
}

func TestResponder_PeerFailurePurgesAnswer(t *testing.T) {
	st, _ := setupTestStore(t)
	keys := store.SignalingPaths(testUser, testDevice)
	pool := &answererPool{early: []ICECandidate{candidate("candidate:0", "")}}
	runResponder(t, st, pool, 0)

	writeOffer(t, st, "v=0 offer", "s1")
	require.Eventually(t, func() bool { return listCount(t, st, keys.DeviceCandidates) == 1 }, waitFor, tick)

	pool.get(0).emitState(StateFailed)
	require.Eventually(t, func() bool {
		_, ok := readAnswer(st)
		return !ok && listCount(t, st, keys.DeviceCandidates) == 0
	}, waitFor, tick)
	assert.Equal(t, 1, pool.get(0).closeCount())

	// the viewer's offer is left alone
	ok, err := st.Exists(context.Background(), keys.Offer)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResponder_OfferWithdrawnClosesPeer(t *testing.T) {
	st, _ := setupTestStore(t)
	keys := store.SignalingPaths(testUser, testDevice)
	pool := &answererPool{}
	runResponder(t, st, pool, 0)

	writeOffer(t, st, "v=0 offer", "s1")
	require.Eventually(t, func() bool { return pool.count() == 1 }, waitFor, tick)

	require.NoError(t, st.Delete(context.Background(), keys.Negotiation()...))
	require.Eventually(t, func() bool { return pool.get(0).closeCount() == 1 }, waitFor, tick)
}

func TestResponder_InvalidIDs(t *testing.T) {
	st, _ := setupTestStore(t)
	r := NewResponder(st, (&answererPool{}).factory, ResponderConfig{UserID: "", DeviceID: testDevice}, nil, zap.NewNop())
	assert.Error(t, r.Start(context.Background()))
}

func TestResponder_StopBeforeStart(t *testing.T) {
	st, _ := setupTestStore(t)
	r := NewResponder(st, (&answererPool{}).factory, ResponderConfig{UserID: testUser, DeviceID: testDevice}, nil, zap.NewNop())
	r.Stop()
	assert.NoError(t, r.Start(context.Background()))
}
