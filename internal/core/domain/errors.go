package domain

import "errors"

var (
	ErrPermissionDenied    = errors.New("media permission denied")
	ErrDeviceUnavailable   = errors.New("media device unavailable")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNoConnection        = errors.New("no connection for participant")
	ErrAlreadyJoined       = errors.New("session already joined")
	ErrNotConnected        = errors.New("session not connected")
	ErrPlaybackBlocked     = errors.New("audio playback blocked")
	ErrSinkDisposed        = errors.New("playback sink disposed")
)
