package audio

import (
	"errors"
	"io"
	"sync"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// StreamSink is a playback endpoint that pumps the bound remote audio track
// to an output writer. There is no mute and no volume control on this path;
// remote audio always plays at full level.
type StreamSink struct {
	id     domain.ParticipantID
	out    io.Writer
	logger *zap.SugaredLogger

	mu       sync.Mutex
	track    *webrtc.TrackRemote
	stop     chan struct{}
	device   string
	disposed bool
}

// NewStreamSink writes raw RTP payloads from the bound track to out. Pass a
// platform playback writer in production; tests pass io.Discard.
func NewStreamSink(id domain.ParticipantID, out io.Writer, logger *zap.SugaredLogger) *StreamSink {
	return &StreamSink{id: id, out: out, logger: logger}
}

func (s *StreamSink) Bind(stream *domain.RemoteStream) error {
	if stream == nil || len(stream.Audio) == 0 {
		return domain.ErrNoConnection
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return domain.ErrSinkDisposed
	}

	// Rebinding swaps the source under the same sink.
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.track = stream.Audio[0]
	return nil
}

func (s *StreamSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return domain.ErrSinkDisposed
	}
	if s.track == nil {
		return domain.ErrNoConnection
	}
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	s.stop = stop
	go s.pump(s.track, stop)
	return nil
}

func (s *StreamSink) pump(track *webrtc.TrackRemote, stop chan struct{}) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debugw("audio track read ended", "participant_id", s.id, "error", err)
			}
			return
		}
		if _, err := s.out.Write(buf[:n]); err != nil {
			s.logger.Warnw("audio output write failed", "participant_id", s.id, "error", err)
			return
		}
	}
}

func (s *StreamSink) SetOutputDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return domain.ErrSinkDisposed
	}
	s.device = deviceID
	return nil
}

// Dispose stops the pump and detaches the source. Idempotent.
func (s *StreamSink) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.track = nil
}

// StreamSinkFactory builds StreamSinks sharing one output writer.
type StreamSinkFactory struct {
	Out    io.Writer
	Logger *zap.SugaredLogger
}

func (f *StreamSinkFactory) NewSink(id domain.ParticipantID) ports.PlaybackSink {
	return NewStreamSink(id, f.Out, f.Logger)
}
