// Package webrtcpeer implements the signaling peer interfaces on pion/webrtc.
package webrtcpeer

import (
	"context"
	"fmt"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/signaling"
)

// DefaultConfig peer configuration with one ICE server entry per URL
func DefaultConfig(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// NewAPI pion API gathering plain host candidates (no mDNS .local names),
// which the device's LAN peers can resolve without multicast
func NewAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func newPeerConnection(api *webrtc.API, cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	if api == nil {
		return webrtc.NewPeerConnection(cfg)
	}
	return api.NewPeerConnection(cfg)
}

// base shared candidate and state plumbing
type base struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger
}

func (b *base) AddICECandidate(c signaling.ICECandidate) error {
	return b.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (b *base) OnICECandidate(fn func(signaling.ICECandidate)) {
	b.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		ci := c.ToJSON()
		fn(signaling.ICECandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})
}

func (b *base) OnConnectionStateChange(fn func(signaling.ConnectionState)) {
	b.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		b.logger.Debug("Peer connection state", zap.String("state", state.String()))
		fn(StateFromPion(state))
	})
}

func (b *base) Close() error {
	return b.pc.Close()
}

// StateFromPion maps pion's connection state onto the mirrored values.
// Disconnected may still recover and is reported as such.
func StateFromPion(state webrtc.PeerConnectionState) signaling.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return signaling.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return signaling.StateConnected
	case webrtc.PeerConnectionStateFailed:
		return signaling.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return signaling.StateClosed
	default:
		return signaling.StateDisconnected
	}
}

func toPion(desc signaling.SessionDescription) (webrtc.SessionDescription, error) {
	var typ webrtc.SDPType
	switch desc.Type {
	case signaling.TypeOffer:
		typ = webrtc.SDPTypeOffer
	case signaling.TypeAnswer:
		typ = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", desc.Type)
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}, nil
}

// Viewer receive-only video offerer used by the client
type Viewer struct {
	base
}

var _ signaling.PeerConnection = (*Viewer)(nil)

// NewViewer api may be nil for pion defaults; onTrack is called for every
// remote track and may be nil
func NewViewer(api *webrtc.API, cfg webrtc.Configuration, onTrack func(*webrtc.TrackRemote), logger *zap.Logger) (*Viewer, error) {
	pc, err := newPeerConnection(api, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to add video transceiver: %w", err)
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("Remote track received",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
		)
		if onTrack != nil {
			onTrack(track)
		}
	})
	return &Viewer{base: base{pc: pc, logger: logger}}, nil
}

func (v *Viewer) CreateOffer(ctx context.Context) (signaling.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return signaling.SessionDescription{Type: signaling.TypeOffer, SDP: offer.SDP}, nil
}

func (v *Viewer) SetRemoteDescription(desc signaling.SessionDescription) error {
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	return v.pc.SetRemoteDescription(sd)
}

// ViewerFactory builds a fresh Viewer per signaling session
func ViewerFactory(api *webrtc.API, cfg webrtc.Configuration, onTrack func(*webrtc.TrackRemote), logger *zap.Logger) signaling.PeerFactory {
	return func() (signaling.PeerConnection, error) {
		return NewViewer(api, cfg, onTrack, logger)
	}
}

// Device answering peer run on the feeder; track may be nil
type Device struct {
	base
}

var _ signaling.AnsweringPeer = (*Device)(nil)

func NewDevice(api *webrtc.API, cfg webrtc.Configuration, track webrtc.TrackLocal, logger *zap.Logger) (*Device, error) {
	pc, err := newPeerConnection(api, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	if track != nil {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add track: %w", err)
		}
		go drainRTCP(sender)
	}
	return &Device{base: base{pc: pc, logger: logger}}, nil
}

func (d *Device) CreateAnswer(ctx context.Context, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	sd, err := toPion(offer)
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	if err := d.pc.SetRemoteDescription(sd); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := d.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := d.pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return signaling.SessionDescription{Type: signaling.TypeAnswer, SDP: answer.SDP}, nil
}

// DeviceFactory newTrack may be nil for a peer without media
func DeviceFactory(api *webrtc.API, cfg webrtc.Configuration, newTrack func() (webrtc.TrackLocal, error), logger *zap.Logger) signaling.AnswererFactory {
	return func() (signaling.AnsweringPeer, error) {
		var track webrtc.TrackLocal
		if newTrack != nil {
			t, err := newTrack()
			if err != nil {
				return nil, err
			}
			track = t
		}
		return NewDevice(api, cfg, track, logger)
	}
}

// NewVideoTrack VP8 sample track for the camera feed
func NewVideoTrack() (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "chickup-camera")
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	return track, nil
}

// drainRTCP reads incoming RTCP so interceptors keep running
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
