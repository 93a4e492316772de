package ports

import (
	"context"

	"meetmesh/internal/core/domain"
)

// MediaAcquirer obtains the local capture stream for a quality profile.
// Fails with domain.ErrPermissionDenied or domain.ErrDeviceUnavailable; the
// caller surfaces the error and stays disconnected, no retry loop.
type MediaAcquirer interface {
	Acquire(ctx context.Context, profile domain.QualityProfile) (*domain.LocalStream, error)
}

// CaptureDevice is the platform capture backend behind MediaAcquirer.
type CaptureDevice interface {
	OpenAudio(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error)
	OpenVideo(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error)
	OpenScreen(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error)
}

// LevelMonitor samples the local audio and reports a normalized 0..1
// activity level. The speaking threshold is the caller's policy, not the
// monitor's.
type LevelMonitor interface {
	Start(stream *domain.LocalStream, onLevel func(float64)) error
	Stop()
}

// PlaybackSink is one audio playback endpoint for one remote participant.
// A sink is never muted and never plays below full volume.
type PlaybackSink interface {
	Bind(stream *domain.RemoteStream) error
	Play() error
	SetOutputDevice(deviceID string) error
	Dispose()
}

// SinkFactory creates playback sinks; the concrete implementation may be
// platform-coupled, the routing logic is not.
type SinkFactory interface {
	NewSink(id domain.ParticipantID) PlaybackSink
}
