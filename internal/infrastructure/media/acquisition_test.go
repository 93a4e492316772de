package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"meetmesh/internal/core/domain"
	"meetmesh/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	audioErr error
	videoErr error
}

func (d *fakeDevice) OpenAudio(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	track := domain.NewLocalTrack("audio", domain.TrackKindAudio, nil)
	track.SetEnabled(false)
	return track, nil
}

func (d *fakeDevice) OpenVideo(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	if d.videoErr != nil {
		return nil, d.videoErr
	}
	track := domain.NewLocalTrack("video", domain.TrackKindVideo, nil)
	track.SetEnabled(false)
	return track, nil
}

func (d *fakeDevice) OpenScreen(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	return domain.NewLocalTrack("screen", domain.TrackKindVideo, nil), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (n *recordingNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.notes...)
}

func TestAcquireForceEnablesTracks(t *testing.T) {
	a := NewAcquirer(&fakeDevice{}, &recordingNotifier{}, logger.Nop())

	stream, err := a.Acquire(context.Background(), domain.QualityMedium)
	require.NoError(t, err)
	require.Len(t, stream.Tracks, 2)
	for _, track := range stream.Tracks {
		assert.True(t, track.Enabled())
	}
	assert.NotNil(t, stream.PCM)
	assert.NotEmpty(t, stream.ID)
}

func TestAcquirePermissionDeniedIsFatal(t *testing.T) {
	a := NewAcquirer(&fakeDevice{audioErr: domain.ErrPermissionDenied}, &recordingNotifier{}, logger.Nop())

	stream, err := a.Acquire(context.Background(), domain.QualityMedium)
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestAcquireVideoUnavailableIsFatal(t *testing.T) {
	a := NewAcquirer(&fakeDevice{videoErr: domain.ErrDeviceUnavailable}, &recordingNotifier{}, logger.Nop())

	stream, err := a.Acquire(context.Background(), domain.QualityMedium)
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
}

func TestAcquireWithoutMicrophoneDegrades(t *testing.T) {
	notifier := &recordingNotifier{}
	a := NewAcquirer(&fakeDevice{audioErr: domain.ErrDeviceUnavailable}, notifier, logger.Nop())

	stream, err := a.Acquire(context.Background(), domain.QualityMedium)
	require.NoError(t, err)
	require.Len(t, stream.Tracks, 1)
	assert.Equal(t, domain.TrackKindVideo, stream.Tracks[0].Kind)

	notes := notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotifyWarning, notes[0].Level)
	assert.Equal(t, domain.NotifyAudioDegraded, notes[0].Code)
}

func TestAcquireOtherAudioErrorIsFatal(t *testing.T) {
	boom := errors.New("backend exploded")
	a := NewAcquirer(&fakeDevice{audioErr: boom}, &recordingNotifier{}, logger.Nop())

	stream, err := a.Acquire(context.Background(), domain.QualityMedium)
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, boom)
}
