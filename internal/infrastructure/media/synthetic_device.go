package media

import (
	"context"
	"math"
	"sync"
	"time"

	"meetmesh/internal/core/domain"
	"meetmesh/pkg/utils"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const (
	syntheticFrame   = 20 * time.Millisecond
	syntheticToneHz  = 440.0
	syntheticSamples = 960 // 48 kHz * 20 ms
)

// SyntheticDevice is a capture backend that generates a test tone and a
// static video payload. It stands in for real camera/microphone capture in
// headless runs and tests; negotiation and routing behave identically.
type SyntheticDevice struct {
	// Amplitude of the generated tone, 0..1. Zero produces silence.
	Amplitude float64
	// FailAudio/FailVideo simulate platform denial.
	FailAudio error
	FailVideo error

	tap *domain.PCMTap

	mu      sync.Mutex
	cancels []chan struct{}
}

func NewSyntheticDevice(amplitude float64) *SyntheticDevice {
	return &SyntheticDevice{Amplitude: amplitude}
}

// AttachTap points the generator at the stream's PCM tap so the level
// monitor and sidetone observe the generated audio.
func (d *SyntheticDevice) AttachTap(tap *domain.PCMTap) {
	d.mu.Lock()
	d.tap = tap
	d.mu.Unlock()
}

func (d *SyntheticDevice) OpenAudio(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	if d.FailAudio != nil {
		return nil, d.FailAudio
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		utils.GenerateStreamID(),
	)
	if err != nil {
		return nil, err
	}

	lt := domain.NewLocalTrack(track.ID(), domain.TrackKindAudio, track)
	d.startToneWriter(lt, track)
	return lt, nil
}

func (d *SyntheticDevice) OpenVideo(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	if d.FailVideo != nil {
		return nil, d.FailVideo
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		utils.GenerateStreamID(),
	)
	if err != nil {
		return nil, err
	}
	return domain.NewLocalTrack(track.ID(), domain.TrackKindVideo, track), nil
}

func (d *SyntheticDevice) OpenScreen(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen",
		utils.GenerateStreamID(),
	)
	if err != nil {
		return nil, err
	}
	return domain.NewLocalTrack(track.ID(), domain.TrackKindVideo, track), nil
}

// Close stops every generator goroutine.
func (d *SyntheticDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.cancels {
		close(c)
	}
	d.cancels = nil
}

// startToneWriter emits one PCM frame per tick to the tap and a matching RTP
// packet to the track. Frames stop when the track is disabled, which is how
// mute silences every peer at once.
func (d *SyntheticDevice) startToneWriter(lt *domain.LocalTrack, track *webrtc.TrackLocalStaticRTP) {
	stop := make(chan struct{})
	d.mu.Lock()
	d.cancels = append(d.cancels, stop)
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(syntheticFrame)
		defer ticker.Stop()

		var seq uint16
		var ts uint32
		var phase float64

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !lt.Enabled() {
					continue
				}

				frame := make([]int16, syntheticSamples)
				for i := range frame {
					frame[i] = int16(d.Amplitude * math.MaxInt16 * math.Sin(phase))
					phase += 2 * math.Pi * syntheticToneHz / 48000
				}

				d.mu.Lock()
				tap := d.tap
				d.mu.Unlock()
				if tap != nil {
					tap.Write(frame)
				}

				pkt := &rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						SequenceNumber: seq,
						Timestamp:      ts,
					},
					Payload: pcmToBytes(frame),
				}
				seq++
				ts += syntheticSamples
				_ = track.WriteRTP(pkt)
			}
		}
	}()
}

func pcmToBytes(frame []int16) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
