package domain

import "time"

type NotificationLevel string

const (
	NotifyInfo    NotificationLevel = "info"
	NotifyWarning NotificationLevel = "warning"
	NotifyError   NotificationLevel = "error"
)

type NotificationCode string

const (
	NotifyConnected       NotificationCode = "peer.connected"
	NotifyConnectionLost  NotificationCode = "peer.connection_lost"
	NotifyPlaybackBlocked NotificationCode = "audio.playback_blocked"
	NotifyMediaFailed     NotificationCode = "media.acquisition_failed"
	NotifyAudioDegraded   NotificationCode = "media.no_audio_track"
)

// Notification is a toast-style, non-blocking user-facing event. Only media
// acquisition failures are fatal to session start; everything else is
// informational.
type Notification struct {
	Level         NotificationLevel `json:"level"`
	Code          NotificationCode  `json:"code"`
	Message       string            `json:"message"`
	ParticipantID ParticipantID     `json:"participant_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
