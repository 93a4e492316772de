package domain

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// LocalTrack wraps a pion local track together with the enabled flag shared
// by every peer connection's sender for that track. Toggling Enabled is how
// mute and camera-off propagate; no renegotiation happens.
type LocalTrack struct {
	ID      string
	Kind    TrackKind
	Track   webrtc.TrackLocal
	enabled int32
}

func NewLocalTrack(id string, kind TrackKind, track webrtc.TrackLocal) *LocalTrack {
	return &LocalTrack{ID: id, Kind: kind, Track: track, enabled: 1}
}

func (t *LocalTrack) Enabled() bool { return atomic.LoadInt32(&t.enabled) == 1 }

func (t *LocalTrack) SetEnabled(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.enabled, v)
}

// LocalStream is the camera+microphone capture shared by reference across
// acquisition, every peer connection and the level monitor.
type LocalStream struct {
	ID     string
	Tracks []*LocalTrack
	PCM    *PCMTap
}

func (s *LocalStream) TracksOfKind(kind TrackKind) []*LocalTrack {
	var out []*LocalTrack
	for _, t := range s.Tracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// RemoteStream is the set of tracks received from one remote participant.
// It is owned by the peer connection entry; participants only hold a back
// reference.
type RemoteStream struct {
	ParticipantID ParticipantID
	StreamID      string
	Audio         []*webrtc.TrackRemote
	Video         []*webrtc.TrackRemote
}

// PCMTap fans out raw audio frames to subscribers (level monitor, sidetone).
// Writers never block on slow readers; stale frames are dropped.
type PCMTap struct {
	mu   sync.RWMutex
	subs []chan []int16
}

func NewPCMTap() *PCMTap { return &PCMTap{} }

func (p *PCMTap) Subscribe() (<-chan []int16, func()) {
	ch := make(chan []int16, 8)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subs {
			if s == ch {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (p *PCMTap) Write(frame []int16) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}
