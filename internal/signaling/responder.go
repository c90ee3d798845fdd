package signaling

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/metrics"
	"github.com/law4percent/Chick-Up/internal/store"
)

// DefaultMaxDeviceCandidates local candidates the device publishes per session
const DefaultMaxDeviceCandidates = 10

// AnswererFactory builds a fresh answering peer per offer
type AnswererFactory func() (AnsweringPeer, error)

// ResponderConfig device-side settings
type ResponderConfig struct {
	UserID        string
	DeviceID      string
	MaxCandidates int
	OnState       func(sessionID string, state ConnectionState)
}

// Responder device side of the signaling channel: answers every new offer for
// its (user, device) pair. All events are handled on the Start goroutine.
type Responder struct {
	store   store.Store
	newPeer AnswererFactory
	cfg     ResponderConfig
	keys    store.SignalingKeys
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool

	events  chan func()
	current *answerSession
}

type answerSession struct {
	id       string
	sdp      string
	peer     AnsweringPeer
	answered bool
	sent     int
	seen     map[string]bool
	iceSub   *store.Subscription
}

// NewResponder creates a Responder
func NewResponder(st store.Store, newPeer AnswererFactory, cfg ResponderConfig, m *metrics.Metrics, logger *zap.Logger) *Responder {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxDeviceCandidates
	}
	return &Responder{
		store:   st,
		newPeer: newPeer,
		cfg:     cfg,
		keys:    store.SignalingPaths(cfg.UserID, cfg.DeviceID),
		metrics: m,
		logger:  logger.With(zap.String("user_id", cfg.UserID), zap.String("device_id", cfg.DeviceID)),
		events:  make(chan func(), 32),
	}
}

// Start blocks, answering offers until ctx is cancelled or Stop is called
func (r *Responder) Start(ctx context.Context) error {
	if err := domain.ValidateID("userId", r.cfg.UserID); err != nil {
		return err
	}
	if err := domain.ValidateID("deviceId", r.cfg.DeviceID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.cancel = cancel
	r.mu.Unlock()

	sub, err := r.store.Subscribe(ctx, r.keys.Offer, func(snap store.Snapshot) {
		r.post(ctx, func() { r.handleOffer(ctx, snap) })
	}, func(err error) {
		r.logger.Warn("Offer read failed", zap.Error(err))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to offers: %w", err)
	}
	defer sub.Close()

	r.logger.Info("Signaling responder started")
	for {
		select {
		case <-ctx.Done():
			r.teardown(r.current, false)
			r.current = nil
			r.logger.Info("Signaling responder stopped")
			return nil
		case fn := <-r.events:
			fn()
		}
	}
}

// Stop ends Start; a Start that has not begun yet returns immediately
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Responder) post(ctx context.Context, fn func()) {
	select {
	case r.events <- fn:
	case <-ctx.Done():
	}
}

func (r *Responder) handleOffer(ctx context.Context, snap store.Snapshot) {
	if !snap.Exists() {
		if r.current != nil {
			r.logger.Info("Offer withdrawn, closing peer", zap.String("session_id", r.current.id))
			r.teardown(r.current, false)
			r.current = nil
		}
		return
	}

	var offer SessionDescription
	if err := snap.Decode(&offer); err != nil || !offer.Valid(TypeOffer) {
		r.logger.Debug("Ignoring malformed offer", zap.Error(err))
		return
	}
	if r.current != nil && r.current.id == offer.SessionID && r.current.sdp == offer.SDP {
		return
	}
	if r.current != nil {
		r.teardown(r.current, false)
		r.current = nil
	}

	peer, err := r.newPeer()
	if err != nil {
		r.logger.Error("Failed to create peer", zap.Error(err))
		return
	}
	as := &answerSession{id: offer.SessionID, sdp: offer.SDP, peer: peer, seen: make(map[string]bool)}
	r.current = as
	r.metrics.SessionStarted()

	peer.OnICECandidate(func(c ICECandidate) {
		r.post(ctx, func() { r.handleLocalCandidate(ctx, as, c) })
	})
	peer.OnConnectionStateChange(func(state ConnectionState) {
		r.post(ctx, func() { r.handlePeerState(as, state) })
	})

	answer, err := peer.CreateAnswer(ctx, offer)
	if err != nil {
		r.logger.Warn("Failed to answer offer", zap.String("session_id", as.id), zap.Error(err))
		r.teardown(as, true)
		r.current = nil
		return
	}
	if err := r.store.Set(ctx, r.keys.Answer, map[string]any{
		"type":      TypeAnswer,
		"sdp":       answer.SDP,
		"sessionId": offer.SessionID,
		"timestamp": store.ServerTimestamp,
	}); err != nil {
		r.logger.Warn("Failed to write answer", zap.String("session_id", as.id), zap.Error(err))
		r.teardown(as, true)
		r.current = nil
		return
	}
	as.answered = true
	r.logger.Info("Offer answered", zap.String("session_id", as.id))

	iceSub, err := r.store.Subscribe(ctx, r.keys.MobileCandidates, func(snap store.Snapshot) {
		r.post(ctx, func() { r.handleRemoteCandidates(as, snap) })
	}, func(err error) {
		r.logger.Warn("Viewer candidate read failed", zap.Error(err))
	})
	if err != nil {
		r.logger.Warn("Failed to subscribe to viewer candidates", zap.Error(err))
		return
	}
	as.iceSub = iceSub
}

func (r *Responder) handleLocalCandidate(ctx context.Context, as *answerSession, c ICECandidate) {
	// candidates are queued on the event loop behind handleOffer, so they are
	// only seen once the answer has been written
	if r.current != as || !as.answered {
		return
	}
	r.sendLocal(ctx, as, c)
}

func (r *Responder) sendLocal(ctx context.Context, as *answerSession, c ICECandidate) {
	if as.sent >= r.cfg.MaxCandidates {
		return
	}
	entry := map[string]any{
		"candidate": c.Candidate,
		"sessionId": as.id,
		"timestamp": store.ServerTimestamp,
	}
	if c.SDPMid != nil {
		entry["sdpMid"] = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		entry["sdpMLineIndex"] = *c.SDPMLineIndex
	}
	if _, err := r.store.Push(ctx, r.keys.DeviceCandidates, entry); err != nil {
		r.logger.Warn("Failed to publish device candidate", zap.Error(err))
		return
	}
	as.sent++
}

func (r *Responder) handleRemoteCandidates(as *answerSession, snap store.Snapshot) {
	if r.current != as {
		return
	}
	for _, child := range snap.Children() {
		if as.seen[child.Key] {
			continue
		}
		as.seen[child.Key] = true

		var c ICECandidate
		if err := child.Decode(&c); err != nil || c.Candidate == "" || !belongsTo(c.SessionID, as.id) {
			continue
		}
		if err := as.peer.AddICECandidate(c); err != nil {
			r.logger.Warn("Failed to add viewer candidate", zap.Error(err))
		}
	}
}

func (r *Responder) handlePeerState(as *answerSession, state ConnectionState) {
	if r.current != as {
		return
	}
	r.logger.Info("Peer state changed", zap.String("session_id", as.id), zap.String("state", string(state)))
	if r.cfg.OnState != nil {
		r.cfg.OnState(as.id, state)
	}
	switch state {
	case StateConnected:
		if as.iceSub != nil {
			as.iceSub.Close()
		}
	case StateFailed, StateClosed:
		r.teardown(as, true)
		r.current = nil
	}
}

// teardown closes the peer; with purgeOwn the answer and device candidates it
// wrote are removed as well
func (r *Responder) teardown(as *answerSession, purgeOwn bool) {
	if as == nil {
		return
	}
	as.iceSub.Close()
	if err := as.peer.Close(); err != nil {
		r.logger.Debug("Peer close failed", zap.Error(err))
	}
	r.metrics.SessionEnded()

	if !purgeOwn {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.store.Delete(ctx, r.keys.Answer, r.keys.DeviceCandidates); err != nil {
		r.logger.Warn("Failed to purge answer", zap.Error(err))
	}
}
