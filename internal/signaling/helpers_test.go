package signaling

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

const (
	testUser   = "u1"
	testDevice = "D1"
	waitFor    = 2 * time.Second
	tick       = 10 * time.Millisecond
)

func setupTestStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	mr.SetTime(time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC))
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, "test:", zap.NewNop()), mr
}

var errInjected = errors.New("injected failure")

// faultyStore fails Set or Push on the chosen paths
type faultyStore struct {
	store.Store
	mu       sync.Mutex
	failSet  string
	failPush string
}

func (f *faultyStore) fail(setPath, pushPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSet, f.failPush = setPath, pushPath
}

func (f *faultyStore) Set(ctx context.Context, path string, value any) error {
	f.mu.Lock()
	fail := path == f.failSet
	f.mu.Unlock()
	if fail {
		return domain.NewTransportError("set", path, errInjected)
	}
	return f.Store.Set(ctx, path, value)
}

func (f *faultyStore) Push(ctx context.Context, path string, value any) (string, error) {
	f.mu.Lock()
	fail := path == f.failPush
	f.mu.Unlock()
	if fail {
		return "", domain.NewTransportError("push", path, errInjected)
	}
	return f.Store.Push(ctx, path, value)
}

// fakePeer scripted peer usable as offerer or answerer
type fakePeer struct {
	mu          sync.Mutex
	onCandidate func(ICECandidate)
	onState     func(ConnectionState)
	remote      []SessionDescription
	added       []ICECandidate
	closed      int
	offerErr    error
	rejectSDP   string
	// gathered before CreateOffer/CreateAnswer returns
	early []ICECandidate
}

func (p *fakePeer) CreateOffer(ctx context.Context) (SessionDescription, error) {
	p.mu.Lock()
	err, early, fn := p.offerErr, p.early, p.onCandidate
	p.mu.Unlock()
	if err != nil {
		return SessionDescription{}, err
	}
	for _, c := range early {
		fn(c)
	}
	return SessionDescription{Type: TypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	p.mu.Lock()
	p.remote = append(p.remote, offer)
	early, fn := p.early, p.onCandidate
	p.mu.Unlock()
	for _, c := range early {
		fn(c)
	}
	return SessionDescription{Type: TypeAnswer, SDP: "v=0 answer to " + offer.SDP}, nil
}

func (p *fakePeer) SetRemoteDescription(desc SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectSDP != "" && desc.SDP == p.rejectSDP {
		return errors.New("bad sdp")
	}
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) AddICECandidate(c ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) emitCandidate(c ICECandidate) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeer) emitState(state ConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(state)
}

func (p *fakePeer) remoteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remote)
}

func (p *fakePeer) addedCandidates() []ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ICECandidate(nil), p.added...)
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// stateRecorder collects callback states
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
	errs   []error
}

func (r *stateRecorder) callbacks() Callbacks {
	return Callbacks{
		OnState: func(s ConnectionState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *stateRecorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *stateRecorder) has(state ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}

func candidate(raw, session string) ICECandidate {
	mid := "0"
	var idx uint16
	return ICECandidate{Candidate: raw, SDPMid: &mid, SDPMLineIndex: &idx, SessionID: session}
}

func readState(t *testing.T, st store.Store) StateRecord {
	t.Helper()
	var rec StateRecord
	require.NoError(t, st.Get(context.Background(), store.SignalingPaths(testUser, testDevice).State, &rec))
	return rec
}

func listCount(t *testing.T, st store.Store, path string) int {
	t.Helper()
	children, err := st.List(context.Background(), path)
	require.NoError(t, err)
	return len(children)
}

func negotiationEmpty(t *testing.T, st store.Store) bool {
	t.Helper()
	for _, key := range store.SignalingPaths(testUser, testDevice).Negotiation() {
		ok, err := st.Exists(context.Background(), key)
		require.NoError(t, err)
		if ok {
			return false
		}
	}
	return true
}
