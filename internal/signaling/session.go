package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/metrics"
	"github.com/law4percent/Chick-Up/internal/store"
)

// cleanupTimeout bounds the purge performed by Stop
const cleanupTimeout = 5 * time.Second

// Callbacks observer hooks for one session; either may be nil
type Callbacks struct {
	OnState func(ConnectionState)
	OnError func(error)
}

// Session one viewer-side negotiation attempt for a (user, device) pair.
// A Session is single use: after Stop a new one must be created.
type Session struct {
	store         store.Store
	peer          PeerConnection
	keys          store.SignalingKeys
	userID        string
	deviceID      string
	id            string
	answerTimeout time.Duration
	callbacks     Callbacks
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu            sync.Mutex
	phase         Phase
	started       bool
	stopping      bool
	offerWritten  bool
	pendingLocal  []ICECandidate
	answerApplied bool
	pendingRemote []ICECandidate
	seenRemote    map[string]bool
	answerSub     *store.Subscription
	iceSub        *store.Subscription
	timer         *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(st store.Store, peer PeerConnection, userID, deviceID string, answerTimeout time.Duration, cb Callbacks, m *metrics.Metrics, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		store:         st,
		peer:          peer,
		keys:          store.SignalingPaths(userID, deviceID),
		userID:        userID,
		deviceID:      deviceID,
		id:            id,
		answerTimeout: answerTimeout,
		callbacks:     cb,
		metrics:       m,
		logger:        logger.With(zap.String("user_id", userID), zap.String("device_id", deviceID), zap.String("session_id", id)),
		phase:         Idle{},
		seenRemote:    make(map[string]bool),
		done:          make(chan struct{}),
	}
}

// ID unique per attempt, echoed by the device in its answer
func (s *Session) ID() string { return s.id }

// Phase current phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done closed after Stop (explicit or on failure) has finished
func (s *Session) Done() <-chan struct{} { return s.done }

// Start purges leftovers, publishes the offer and begins listening for the
// answer and the device's candidates. A failure leaves the session failed and
// its keys purged.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	if s.stopping {
		s.mu.Unlock()
		return s.stoppedErr()
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.metrics.SessionStarted()

	// 1. purge offer/answer/ICE left by an earlier attempt
	if err := s.store.Delete(s.ctx, s.keys.Negotiation()...); err != nil {
		return s.fail(&domain.SignalingError{Reason: "purge before start", Err: err})
	}

	// 2. connecting
	if !s.transition(Offered{SessionID: s.id}) {
		return s.stoppedErr()
	}
	s.writeState(StateConnecting)

	// 3. local offer
	s.peer.OnICECandidate(s.onLocalCandidate)
	s.peer.OnConnectionStateChange(s.onPeerState)
	offer, err := s.peer.CreateOffer(s.ctx)
	if err != nil {
		return s.fail(&domain.SignalingError{Reason: "create offer", Err: err})
	}
	if err := s.store.Set(s.ctx, s.keys.Offer, map[string]any{
		"type":      TypeOffer,
		"sdp":       offer.SDP,
		"sessionId": s.id,
		"timestamp": store.ServerTimestamp,
	}); err != nil {
		return s.fail(&domain.SignalingError{Reason: "write offer", Err: err})
	}

	// 4. candidates gathered before the offer was written
	s.mu.Lock()
	s.offerWritten = true
	pending := s.pendingLocal
	s.pendingLocal = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := s.sendLocal(c); err != nil {
			return err
		}
	}

	// 5. answer, then device candidates
	answerSub, err := s.store.Subscribe(s.ctx, s.keys.Answer, s.onAnswer, s.onReadError)
	if err != nil {
		return s.fail(&domain.SignalingError{Reason: "subscribe answer", Err: err})
	}
	s.mu.Lock()
	s.answerSub = answerSub
	closeAnswer := s.answerApplied || s.stopping
	s.mu.Unlock()
	if closeAnswer {
		answerSub.Close()
	}

	iceSub, err := s.store.Subscribe(s.ctx, s.keys.DeviceCandidates, s.onRemoteCandidates, s.onReadError)
	if err != nil {
		return s.fail(&domain.SignalingError{Reason: "subscribe device candidates", Err: err})
	}
	s.mu.Lock()
	s.iceSub = iceSub
	_, connected := s.phase.(Connected)
	closeICE := connected || s.stopping
	if s.answerTimeout > 0 && !s.answerApplied && !s.stopping {
		s.timer = time.AfterFunc(s.answerTimeout, s.onAnswerTimeout)
	}
	s.mu.Unlock()
	if closeICE {
		iceSub.Close()
	}

	s.logger.Info("Signaling session started")
	return nil
}

// Stop writes closed (a failed session stays failed), closes the peer,
// releases subscriptions and purges offer/answer/ICE. Safe to call any number
// of times, from any state and from callbacks; only the first call touches the
// store.
func (s *Session) Stop() {
	s.stopOnce.Do(s.teardown)
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.stopping = true
	failed := false
	if _, ok := s.phase.(Failed); ok {
		failed = true
	} else if !Terminal(s.phase) {
		s.phase = Closed{}
	}
	started := s.started
	cancel := s.cancel
	answerSub, iceSub := s.answerSub, s.iceSub
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	answerSub.Close()
	iceSub.Close()

	if started && !failed {
		s.writeState(StateClosed)
	}
	if err := s.peer.Close(); err != nil {
		s.logger.Debug("Peer close failed", zap.Error(err))
	}
	if cancel != nil {
		cancel()
	}
	s.purge()
	if started {
		s.metrics.SessionEnded()
		if !failed {
			s.metrics.SessionState(string(StateClosed))
			s.notifyState(StateClosed)
		}
	}

	s.logger.Info("Signaling session stopped", zap.Bool("failed", failed))
	close(s.done)
}

func (s *Session) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, s.keys.Negotiation()...); err != nil {
		s.logger.Warn("Failed to purge signaling keys", zap.Error(err))
		s.notifyError(err)
	}
}

// fail moves to failed, surfaces err and stops. Returns err for Start.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.stopping || Terminal(s.phase) {
		s.mu.Unlock()
		return err
	}
	s.phase = Failed{Err: err}
	s.mu.Unlock()

	s.logger.Warn("Signaling session failed", zap.Error(err))
	s.writeState(StateFailed)
	s.metrics.SessionState(string(StateFailed))
	s.notifyError(err)
	s.notifyState(StateFailed)
	s.Stop()
	return err
}

func (s *Session) transition(to Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || !CanTransition(s.phase, to) {
		return false
	}
	s.phase = to
	return true
}

func (s *Session) stoppedErr() error {
	return &domain.SignalingError{Reason: "session stopped", Err: context.Canceled}
}

func (s *Session) onLocalCandidate(c ICECandidate) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	if !s.offerWritten {
		s.pendingLocal = append(s.pendingLocal, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	_ = s.sendLocal(c)
}

func (s *Session) sendLocal(c ICECandidate) error {
	entry := map[string]any{
		"candidate": c.Candidate,
		"sessionId": s.id,
		"timestamp": store.ServerTimestamp,
	}
	if c.SDPMid != nil {
		entry["sdpMid"] = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		entry["sdpMLineIndex"] = *c.SDPMLineIndex
	}
	if _, err := s.store.Push(s.ctx, s.keys.MobileCandidates, entry); err != nil {
		if s.ctx.Err() != nil {
			return err
		}
		return s.fail(&domain.SignalingError{Reason: "send candidate", Err: err})
	}
	return nil
}

func (s *Session) onAnswer(snap store.Snapshot) {
	if !snap.Exists() {
		return
	}
	var answer SessionDescription
	if err := snap.Decode(&answer); err != nil {
		s.logger.Debug("Ignoring malformed answer", zap.Error(err))
		return
	}
	if !answer.Valid(TypeAnswer) {
		return
	}
	if !belongsTo(answer.SessionID, s.id) {
		s.logger.Debug("Ignoring stale answer", zap.String("answer_session_id", answer.SessionID))
		return
	}

	s.mu.Lock()
	if s.answerApplied || s.stopping {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.peer.SetRemoteDescription(answer); err != nil {
		// rejected answers count as not yet available
		s.logger.Warn("Answer rejected by peer", zap.Error(err))
		return
	}

	if !s.transition(Answered{SessionID: s.id}) {
		return
	}
	s.mu.Lock()
	s.answerApplied = true
	pending := s.pendingRemote
	s.pendingRemote = nil
	answerSub := s.answerSub
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	answerSub.Close()
	s.logger.Info("Answer applied", zap.Int("queued_candidates", len(pending)))
	for _, c := range pending {
		s.applyRemote(c)
	}
}

func (s *Session) onRemoteCandidates(snap store.Snapshot) {
	for _, child := range snap.Children() {
		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		if s.seenRemote[child.Key] {
			s.mu.Unlock()
			continue
		}
		s.seenRemote[child.Key] = true
		s.mu.Unlock()

		var c ICECandidate
		if err := child.Decode(&c); err != nil || c.Candidate == "" {
			continue
		}
		if !belongsTo(c.SessionID, s.id) {
			continue
		}

		s.mu.Lock()
		if !s.answerApplied {
			s.pendingRemote = append(s.pendingRemote, c)
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()
		s.applyRemote(c)
	}
}

func (s *Session) applyRemote(c ICECandidate) {
	if err := s.peer.AddICECandidate(c); err != nil {
		s.logger.Warn("Failed to add device candidate", zap.Error(err))
	}
}

func (s *Session) onPeerState(state ConnectionState) {
	switch state {
	case StateConnected:
		if !s.transition(Connected{SessionID: s.id}) {
			return
		}
		s.mu.Lock()
		iceSub := s.iceSub
		s.mu.Unlock()
		iceSub.Close()

		s.logger.Info("Peer connected")
		s.writeState(StateConnected)
		s.metrics.SessionState(string(StateConnected))
		s.notifyState(StateConnected)
	case StateFailed:
		_ = s.fail(&domain.SignalingError{Reason: "peer connection failed"})
	case StateClosed:
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if !stopping {
			go s.Stop()
		}
	}
}

func (s *Session) onAnswerTimeout() {
	s.mu.Lock()
	applied := s.answerApplied
	s.mu.Unlock()
	if !applied {
		_ = s.fail(&domain.SignalingError{Reason: fmt.Sprintf("no answer within %s", s.answerTimeout)})
	}
}

func (s *Session) onReadError(err error) {
	s.logger.Warn("Signaling read failed", zap.Error(err))
	s.notifyError(err)
}

func (s *Session) writeState(state ConnectionState) {
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
	}
	if err := s.store.Set(ctx, s.keys.State, map[string]any{
		"connectionState": state,
		"sessionId":       s.id,
		"updatedAt":       store.ServerTimestamp,
	}); err != nil {
		s.logger.Warn("Failed to mirror connection state", zap.String("state", string(state)), zap.Error(err))
		s.notifyError(err)
	}
}

func (s *Session) notifyState(state ConnectionState) {
	if s.callbacks.OnState != nil {
		s.callbacks.OnState(state)
	}
}

func (s *Session) notifyError(err error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}
