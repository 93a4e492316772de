package domain

import "encoding/json"

type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

// SignalMessage is the envelope carried by the signaling channel. Payload is
// an opaque SDP or ICE candidate blob; this system defines no wire format of
// its own beyond the envelope.
type SignalMessage struct {
	Type     SignalType      `json:"type"`
	From     ParticipantID   `json:"from"`
	FromName string          `json:"from_name,omitempty"`
	To       ParticipantID   `json:"to"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ConnState is the per-peer-connection state machine.
type ConnState string

const (
	ConnStateNew          ConnState = "new"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateFailed       ConnState = "failed"
	ConnStateClosed       ConnState = "closed"
)

// Terminal reports whether no further transitions are expected.
func (s ConnState) Terminal() bool {
	return s == ConnStateFailed || s == ConnStateClosed
}

// NegotiationRole determines which side of a pair sends the offer. The side
// that was already present offers; the joiner answers. Exactly one side
// offers per pair, which avoids glare without a backoff mechanism.
type NegotiationRole string

const (
	RoleOfferer  NegotiationRole = "offerer"
	RoleAnswerer NegotiationRole = "answerer"
)

// SessionState is the orchestrator-level state machine.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
)
