package domain

import "time"

type (
	MeetingID     string
	ParticipantID string
)

// Participant is one member of a meeting. The live per-session fields
// (IsMuted, IsVideoOff, IsSpeaking) are mutated only by the session
// orchestrator; the store persists the durable subset.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
	IsModerator bool          `json:"is_moderator"`
	IsPresent   bool          `json:"is_present"`
	JoinedAt    time.Time     `json:"joined_at"`

	IsMuted    bool `json:"is_muted"`
	IsVideoOff bool `json:"is_video_off"`
	IsSpeaking bool `json:"is_speaking"`
}

// ParticipantSnapshot is the read-only view produced for the UI surface.
type ParticipantSnapshot struct {
	Participant
	ConnState      ConnState `json:"conn_state"`
	NetworkQuality float64   `json:"network_quality"`
	IsPinned       bool      `json:"is_pinned"`
}

// Identity is the opaque identity resolved by the external identity layer.
// IsModerator is fixed here; the roster row copies it at join time and it
// never changes for the life of the session.
type Identity struct {
	ID          ParticipantID
	DisplayName string
	IsModerator bool
}

// QualityProfile selects the media constraint tier used at acquisition.
type QualityProfile string

const (
	QualityLow    QualityProfile = "low"
	QualityMedium QualityProfile = "medium"
	QualityHigh   QualityProfile = "high"
)

// Constraints returns the capture constraints for the profile.
func (q QualityProfile) Constraints() MediaConstraints {
	switch q {
	case QualityLow:
		return MediaConstraints{Width: 640, Height: 360, FrameRate: 15, SampleRate: 16000, EchoCancellation: true, NoiseSuppression: true}
	case QualityHigh:
		return MediaConstraints{Width: 1920, Height: 1080, FrameRate: 30, SampleRate: 48000, EchoCancellation: true, NoiseSuppression: true}
	default:
		return MediaConstraints{Width: 1280, Height: 720, FrameRate: 30, SampleRate: 48000, EchoCancellation: true, NoiseSuppression: true}
	}
}

type MediaConstraints struct {
	Width            int
	Height           int
	FrameRate        int
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
}
