package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"
	"meetmesh/pkg/utils"

	"go.uber.org/zap"
)

// Acquirer obtains the local capture stream for a quality profile. A
// permission denial or missing camera is fatal to session start; a missing
// microphone degrades to audio-less participation with a warning.
type Acquirer struct {
	device   ports.CaptureDevice
	notifier ports.Notifier
	logger   *zap.SugaredLogger
}

func NewAcquirer(device ports.CaptureDevice, notifier ports.Notifier, logger *zap.SugaredLogger) *Acquirer {
	return &Acquirer{device: device, notifier: notifier, logger: logger}
}

func (a *Acquirer) Acquire(ctx context.Context, profile domain.QualityProfile) (*domain.LocalStream, error) {
	constraints := profile.Constraints()

	stream := &domain.LocalStream{
		ID:  utils.GenerateStreamID(),
		PCM: domain.NewPCMTap(),
	}

	// Devices that generate their own audio feed the stream's tap so the
	// level monitor and sidetone observe it.
	if tapper, ok := a.device.(interface{ AttachTap(*domain.PCMTap) }); ok {
		tapper.AttachTap(stream.PCM)
	}

	video, err := a.device.OpenVideo(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("video capture: %w", err)
	}
	stream.Tracks = append(stream.Tracks, video)

	audio, err := a.device.OpenAudio(ctx, constraints)
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return nil, fmt.Errorf("audio capture: %w", err)
	case errors.Is(err, domain.ErrDeviceUnavailable):
		// Audio-less participation is allowed, degraded.
		a.logger.Warnw("no audio track available, continuing without microphone", "stream_id", stream.ID)
		if a.notifier != nil {
			a.notifier.Notify(domain.Notification{
				Level:     domain.NotifyWarning,
				Code:      domain.NotifyAudioDegraded,
				Message:   "joining without a microphone",
				Timestamp: time.Now(),
			})
		}
	case err != nil:
		return nil, fmt.Errorf("audio capture: %w", err)
	default:
		stream.Tracks = append(stream.Tracks, audio)
	}

	// Tracks may arrive disabled depending on platform defaults.
	for _, t := range stream.Tracks {
		t.SetEnabled(true)
	}

	a.logger.Infow("local media acquired",
		"stream_id", stream.ID,
		"profile", profile,
		"tracks", len(stream.Tracks),
	)
	return stream, nil
}
