package media

import (
	"sync"

	"meetmesh/internal/core/domain"
)

// sidetoneGain keeps self-monitoring quiet enough to avoid feedback. This
// path is intentionally isolated from remote audio routing, which always
// plays at full volume.
const sidetoneGain = 0.2

// Sidetone plays the local microphone back to the speaker at low gain.
type Sidetone struct {
	out func([]int16)

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

func NewSidetone(out func([]int16)) *Sidetone {
	return &Sidetone{out: out}
}

func (s *Sidetone) Start(stream *domain.LocalStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if stream == nil || stream.PCM == nil {
		return domain.ErrDeviceUnavailable
	}

	frames, cancel := stream.PCM.Subscribe()
	stop := make(chan struct{})
	s.stop = stop
	s.running = true

	go func() {
		defer cancel()
		for {
			select {
			case <-stop:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				attenuated := make([]int16, len(frame))
				for i, v := range frame {
					attenuated[i] = int16(float64(v) * sidetoneGain)
				}
				s.out(attenuated)
			}
		}
	}()
	return nil
}

func (s *Sidetone) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
}
