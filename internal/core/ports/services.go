package ports

import (
	"context"
	"time"

	"meetmesh/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerManager owns the participant -> peer connection map and drives
// offer/answer/ICE negotiation. At most one connection exists per
// participant; a second create replaces the first.
type PeerManager interface {
	CreateForParticipant(ctx context.Context, id domain.ParticipantID, local *domain.LocalStream, isOfferer bool) error
	HandleSignalingMessage(ctx context.Context, msg domain.SignalMessage) error
	SetTrackEnabled(kind domain.TrackKind, enabled bool)
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	CloseAll()

	ConnState(id domain.ParticipantID) (domain.ConnState, bool)
	NetworkQuality(id domain.ParticipantID) float64
	Count() int

	OnRemoteStream(fn func(*domain.RemoteStream))
	OnStateChange(fn func(domain.ParticipantID, domain.ConnState))
}

// PeerManagerFactory builds the per-session peer manager once the local
// identity and meeting are known.
type PeerManagerFactory func(meetingID domain.MeetingID, self domain.Identity) PeerManager

// Notifier delivers toast-style notifications to the UI surface.
type Notifier interface {
	Notify(n domain.Notification)
}

// SessionService is the produced control surface of the session core.
type SessionService interface {
	Join(ctx context.Context, meetingID domain.MeetingID) error
	EndCall(ctx context.Context) error

	ToggleMute(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
	PinParticipant(id domain.ParticipantID)
	SetAudioOutput(deviceID string) error
	NotifyGesture()

	State() domain.SessionState
	Duration() time.Duration
	Participants() []domain.ParticipantSnapshot
}
