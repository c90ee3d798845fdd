package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
	"github.com/law4percent/Chick-Up/internal/metrics"
	"github.com/law4percent/Chick-Up/internal/store"
)

// DefaultAnswerTimeout how long a viewer waits for the device's answer
const DefaultAnswerTimeout = 30 * time.Second

// PeerFactory builds a fresh offering peer per session
type PeerFactory func() (PeerConnection, error)

type pairKey struct {
	userID   string
	deviceID string
}

// Coordinator owns at most one live viewer session per (user, device)
type Coordinator struct {
	store         store.Store
	newPeer       PeerFactory
	answerTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu       sync.Mutex
	sessions map[pairKey]*Session
}

// NewCoordinator answerTimeout 0 disables the timeout
func NewCoordinator(st store.Store, newPeer PeerFactory, answerTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:         st,
		newPeer:       newPeer,
		answerTimeout: answerTimeout,
		metrics:       m,
		logger:        logger,
		sessions:      make(map[pairKey]*Session),
	}
}

// StartSession stops any live session for the pair, then starts a new one
func (c *Coordinator) StartSession(ctx context.Context, userID, deviceID string, cb Callbacks) (*Session, error) {
	if err := domain.ValidateID("userId", userID); err != nil {
		return nil, err
	}
	if err := domain.ValidateID("deviceId", deviceID); err != nil {
		return nil, err
	}
	key := pairKey{userID: userID, deviceID: deviceID}

	c.mu.Lock()
	previous := c.sessions[key]
	delete(c.sessions, key)
	c.mu.Unlock()
	if previous != nil {
		c.logger.Info("Replacing signaling session",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.String("session_id", previous.ID()),
		)
		previous.Stop()
	}

	peer, err := c.newPeer()
	if err != nil {
		return nil, &domain.SignalingError{Reason: "create peer", Err: err}
	}
	sess := newSession(c.store, peer, userID, deviceID, c.answerTimeout, cb, c.metrics, c.logger)

	c.mu.Lock()
	other := c.sessions[key]
	c.sessions[key] = sess
	c.mu.Unlock()
	if other != nil {
		// a concurrent StartSession took the slot meanwhile; it is replaced too
		other.Stop()
	}

	go func() {
		<-sess.Done()
		c.mu.Lock()
		if c.sessions[key] == sess {
			delete(c.sessions, key)
		}
		c.mu.Unlock()
	}()

	if err := sess.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start signaling session: %w", err)
	}
	return sess, nil
}

// Session live session for the pair, nil if none
func (c *Coordinator) Session(userID, deviceID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[pairKey{userID: userID, deviceID: deviceID}]
}

// StopSession stops the pair's session. With no live session the negotiation
// keys are still purged so leftovers of a crashed process do not linger.
func (c *Coordinator) StopSession(ctx context.Context, userID, deviceID string) error {
	key := pairKey{userID: userID, deviceID: deviceID}
	c.mu.Lock()
	sess := c.sessions[key]
	delete(c.sessions, key)
	c.mu.Unlock()

	if sess != nil {
		sess.Stop()
		return nil
	}
	keys := store.SignalingPaths(userID, deviceID)
	if err := c.store.Delete(ctx, keys.Negotiation()...); err != nil {
		return fmt.Errorf("failed to purge signaling keys: %w", err)
	}
	return nil
}

// StopAll stops every live session
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for key, s := range c.sessions {
		sessions = append(sessions, s)
		delete(c.sessions, key)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
