package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTrackEnabledToggle(t *testing.T) {
	track := NewLocalTrack("t1", TrackKindAudio, nil)
	assert.True(t, track.Enabled())

	track.SetEnabled(false)
	assert.False(t, track.Enabled())

	track.SetEnabled(true)
	assert.True(t, track.Enabled())
}

func TestTracksOfKind(t *testing.T) {
	stream := &LocalStream{
		Tracks: []*LocalTrack{
			NewLocalTrack("a", TrackKindAudio, nil),
			NewLocalTrack("v", TrackKindVideo, nil),
		},
	}

	audio := stream.TracksOfKind(TrackKindAudio)
	require.Len(t, audio, 1)
	assert.Equal(t, "a", audio[0].ID)

	video := stream.TracksOfKind(TrackKindVideo)
	require.Len(t, video, 1)
	assert.Equal(t, "v", video[0].ID)
}

func TestPCMTapFanOut(t *testing.T) {
	tap := NewPCMTap()

	ch1, cancel1 := tap.Subscribe()
	ch2, cancel2 := tap.Subscribe()
	defer cancel2()

	frame := []int16{1, 2, 3}
	tap.Write(frame)

	assert.Equal(t, frame, <-ch1)
	assert.Equal(t, frame, <-ch2)

	cancel1()
	_, open := <-ch1
	assert.False(t, open)

	// Remaining subscriber still receives.
	tap.Write(frame)
	assert.Equal(t, frame, <-ch2)
}

func TestPCMTapDropsWhenSubscriberIsFull(t *testing.T) {
	tap := NewPCMTap()
	ch, cancel := tap.Subscribe()
	defer cancel()

	// Overfill the buffer; writes must not block.
	for i := 0; i < 20; i++ {
		tap.Write([]int16{int16(i)})
	}

	assert.Equal(t, []int16{0}, <-ch)
}

func TestConnStateTerminal(t *testing.T) {
	assert.True(t, ConnStateFailed.Terminal())
	assert.True(t, ConnStateClosed.Terminal())
	assert.False(t, ConnStateConnected.Terminal())
	assert.False(t, ConnStateDisconnected.Terminal())
}
