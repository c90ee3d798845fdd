package signaling

import "context"

// PeerConnection offering side of a peer connection (the viewer).
// Callbacks must be registered before CreateOffer so no local candidate is lost.
type PeerConnection interface {
	// CreateOffer creates the offer and installs it as the local description
	CreateOffer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(c ICECandidate) error
	OnICECandidate(fn func(ICECandidate))
	OnConnectionStateChange(fn func(ConnectionState))
	Close() error
}

// AnsweringPeer answering side (the device)
type AnsweringPeer interface {
	// CreateAnswer applies the remote offer, then creates and installs the local answer
	CreateAnswer(ctx context.Context, offer SessionDescription) (SessionDescription, error)
	AddICECandidate(c ICECandidate) error
	OnICECandidate(fn func(ICECandidate))
	OnConnectionStateChange(fn func(ConnectionState))
	Close() error
}
