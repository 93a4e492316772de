package media

import (
	"fmt"
	"math"
	"sync"
	"time"

	"meetmesh/internal/core/domain"
)

const levelTick = 50 * time.Millisecond

// LevelMonitor samples the local audio frames and reports a normalized 0..1
// activity level on a fixed tick. Whether a level counts as "speaking" is
// the caller's policy.
type LevelMonitor struct {
	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

func NewLevelMonitor() *LevelMonitor {
	return &LevelMonitor{}
}

func (m *LevelMonitor) Start(stream *domain.LocalStream, onLevel func(float64)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("level monitor already running")
	}
	if stream == nil || stream.PCM == nil {
		return domain.ErrDeviceUnavailable
	}

	frames, cancel := stream.PCM.Subscribe()
	stop := make(chan struct{})
	m.stop = stop
	m.running = true

	go func() {
		defer cancel()
		ticker := time.NewTicker(levelTick)
		defer ticker.Stop()

		var latest []int16
		for {
			select {
			case <-stop:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				latest = frame
			case <-ticker.C:
				onLevel(rms(latest))
				latest = nil
			}
		}
	}()
	return nil
}

func (m *LevelMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stop)
	m.running = false
}

// rms computes the normalized root-mean-square amplitude of one frame.
func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
