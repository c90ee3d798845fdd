package webrtcpeer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/signaling"
	"github.com/law4percent/Chick-Up/internal/store"
)

func TestStateFromPion(t *testing.T) {
	assert.Equal(t, signaling.StateDisconnected, StateFromPion(webrtc.PeerConnectionStateNew))
	assert.Equal(t, signaling.StateConnecting, StateFromPion(webrtc.PeerConnectionStateConnecting))
	assert.Equal(t, signaling.StateConnected, StateFromPion(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, signaling.StateDisconnected, StateFromPion(webrtc.PeerConnectionStateDisconnected))
	assert.Equal(t, signaling.StateFailed, StateFromPion(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, signaling.StateClosed, StateFromPion(webrtc.PeerConnectionStateClosed))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig([]string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	require.Len(t, cfg.ICEServers, 1)
	assert.Len(t, cfg.ICEServers[0].URLs, 2)

	assert.Empty(t, DefaultConfig(nil).ICEServers)
}

func TestViewerOfferAndDeviceAnswer(t *testing.T) {
	logger := zap.NewNop()
	viewer, err := NewViewer(nil, webrtc.Configuration{}, nil, logger)
	require.NoError(t, err)
	defer viewer.Close()

	track, err := NewVideoTrack()
	require.NoError(t, err)
	device, err := NewDevice(nil, webrtc.Configuration{}, track, logger)
	require.NoError(t, err)
	defer device.Close()

	ctx := context.Background()
	offer, err := viewer.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, signaling.TypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "a=recvonly")

	answer, err := device.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, signaling.TypeAnswer, answer.Type)

	require.NoError(t, viewer.SetRemoteDescription(answer))
	assert.Error(t, viewer.SetRemoteDescription(signaling.SessionDescription{Type: "pranswer", SDP: answer.SDP}))
}

func TestLoopbackThroughStore(t *testing.T) {
	if testing.Short() {
		t.Skip("pion loopback skipped in short mode")
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStore(client, "test:", zap.NewNop())
	logger := zap.NewNop()
	cfg := webrtc.Configuration{}
	api := NewAPI()

	responder := signaling.NewResponder(st, DeviceFactory(api, cfg, NewVideoTrack, logger),
		signaling.ResponderConfig{UserID: "u1", DeviceID: "D1"}, nil, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- responder.Start(context.Background()) }()
	defer func() {
		responder.Stop()
		<-errCh
	}()

	connected := make(chan struct{}, 1)
	coord := signaling.NewCoordinator(st, ViewerFactory(api, cfg, nil, logger), 10*time.Second, nil, logger)
	defer coord.StopAll()

	_, err := coord.StartSession(context.Background(), "u1", "D1", signaling.Callbacks{
		OnState: func(s signaling.ConnectionState) {
			if s == signaling.StateConnected {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
	})
	require.NoError(t, err)

	select {
	case <-connected:
	case <-time.After(15 * time.Second):
		t.Fatal("viewer and device did not connect")
	}

	var rec signaling.StateRecord
	require.NoError(t, st.Get(context.Background(), store.SignalingPaths("u1", "D1").State, &rec))
	assert.Equal(t, signaling.StateConnected, rec.ConnectionState)
}
