package signaling

// ConnectionState value mirrored to signaling/{u}/{d}/state
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// SDP types
const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
)

// SessionDescription offer or answer as exchanged through the store
type SessionDescription struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp"`
	SessionID string `json:"sessionId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Valid non-empty SDP of the expected type
func (d SessionDescription) Valid(wantType string) bool {
	return d.SDP != "" && d.Type == wantType
}

// ICECandidate trickled candidate; SDPMid and SDPMLineIndex are optional on the wire
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SessionID     string  `json:"sessionId,omitempty"`
	Timestamp     int64   `json:"timestamp,omitempty"`
}

// StateRecord signaling/{u}/{d}/state
type StateRecord struct {
	ConnectionState ConnectionState `json:"connectionState"`
	SessionID       string          `json:"sessionId,omitempty"`
	UpdatedAt       int64           `json:"updatedAt"`
}

// belongsTo entries without a session id come from peers that do not echo it
// and are accepted
func belongsTo(entrySession, session string) bool {
	return entrySession == "" || entrySession == session
}
