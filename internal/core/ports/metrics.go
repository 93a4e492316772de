package ports

import (
	"time"

	"meetmesh/internal/core/domain"
)

// MetricsRecorder receives the session counters. The prometheus collector is
// the production implementation; a nil recorder disables collection.
type MetricsRecorder interface {
	RecordParticipantJoined()
	RecordParticipantLeft()
	RecordConnectionCreated()
	RecordConnectionState(prev, next domain.ConnState)
	RecordNegotiationComplete(duration time.Duration)
	RecordNegotiationFailure()
	RecordSignalingMessage(t domain.SignalType, direction string)
	RecordAutoplayBlocked()
	RecordNetworkQuality(id domain.ParticipantID, quality float64)
	ForgetParticipant(id domain.ParticipantID)
	RecordSessionEnded(duration time.Duration)
}

// AudioRouter owns remote audio playback, one sink per participant.
type AudioRouter interface {
	Route(stream *domain.RemoteStream) error
	NotifyGesture()
	SetOutputDevice(deviceID string) error
	Unbind(id domain.ParticipantID)
	UnbindAll()
}
