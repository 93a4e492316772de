package audio

import (
	"errors"
	"sync"
	"testing"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"
	"meetmesh/pkg/logger"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu         sync.Mutex
	playErrs   []error
	plays      int
	binds      int
	devices    []string
	deviceErr  error
	disposed   int
	lastStream *domain.RemoteStream
}

func (s *fakeSink) Bind(stream *domain.RemoteStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binds++
	s.lastStream = stream
	return nil
}

func (s *fakeSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	if len(s.playErrs) > 0 {
		err := s.playErrs[0]
		s.playErrs = s.playErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSink) SetOutputDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, deviceID)
	return s.deviceErr
}

func (s *fakeSink) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed++
}

type fakeFactory struct {
	mu    sync.Mutex
	sinks map[domain.ParticipantID]*fakeSink
	next  *fakeSink
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{sinks: make(map[domain.ParticipantID]*fakeSink)}
}

func (f *fakeFactory) NewSink(id domain.ParticipantID) ports.PlaybackSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	sink := f.next
	if sink == nil {
		sink = &fakeSink{}
	}
	f.next = nil
	f.sinks[id] = sink
	return sink
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (n *captureNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *captureNotifier) count(code domain.NotificationCode) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, note := range n.notes {
		if note.Code == code {
			c++
		}
	}
	return c
}

func audioStream(id domain.ParticipantID) *domain.RemoteStream {
	return &domain.RemoteStream{
		ParticipantID: id,
		StreamID:      "stm_test",
		Audio:         []*webrtc.TrackRemote{{}},
	}
}

func TestRouteCreatesSinkAndPlays(t *testing.T) {
	factory := newFakeFactory()
	r := NewRouter(factory, &captureNotifier{}, logger.Nop())

	require.NoError(t, r.Route(audioStream("p1")))

	sink := factory.sinks["p1"]
	require.NotNil(t, sink)
	assert.Equal(t, 1, sink.binds)
	assert.Equal(t, 1, sink.plays)
	assert.Equal(t, 0, r.PendingCount())
}

func TestRouteRebindReusesSink(t *testing.T) {
	factory := newFakeFactory()
	r := NewRouter(factory, &captureNotifier{}, logger.Nop())

	require.NoError(t, r.Route(audioStream("p1")))
	require.NoError(t, r.Route(audioStream("p1")))

	sink := factory.sinks["p1"]
	assert.Equal(t, 2, sink.binds)
	assert.Len(t, factory.sinks, 1)
}

func TestRouteSkipsAudiolessStream(t *testing.T) {
	factory := newFakeFactory()
	r := NewRouter(factory, &captureNotifier{}, logger.Nop())

	require.NoError(t, r.Route(&domain.RemoteStream{ParticipantID: "p1", StreamID: "s"}))
	assert.Empty(t, factory.sinks)
}

func TestBlockedPlaybackQueuesForGesture(t *testing.T) {
	factory := newFakeFactory()
	factory.next = &fakeSink{playErrs: []error{domain.ErrPlaybackBlocked}}
	notifier := &captureNotifier{}
	r := NewRouter(factory, notifier, logger.Nop())

	require.NoError(t, r.Route(audioStream("p1")))
	assert.Equal(t, 1, r.PendingCount())
	assert.Equal(t, 1, notifier.count(domain.NotifyPlaybackBlocked))

	// One retry per gesture; this one succeeds.
	r.NotifyGesture()
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 2, factory.sinks["p1"].plays)

	// Gesture with an empty queue is a no-op.
	r.NotifyGesture()
	assert.Equal(t, 2, factory.sinks["p1"].plays)
}

func TestBlockedRetryRequeues(t *testing.T) {
	factory := newFakeFactory()
	factory.next = &fakeSink{playErrs: []error{domain.ErrPlaybackBlocked, domain.ErrPlaybackBlocked}}
	notifier := &captureNotifier{}
	r := NewRouter(factory, notifier, logger.Nop())

	require.NoError(t, r.Route(audioStream("p1")))
	r.NotifyGesture()

	// Still blocked after the retry, queued again for the next gesture.
	assert.Equal(t, 1, r.PendingCount())

	r.NotifyGesture()
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 3, factory.sinks["p1"].plays)
}

func TestNonBlockErrorSurfaces(t *testing.T) {
	factory := newFakeFactory()
	factory.next = &fakeSink{playErrs: []error{errors.New("device gone")}}
	r := NewRouter(factory, &captureNotifier{}, logger.Nop())

	assert.Error(t, r.Route(audioStream("p1")))
	assert.Equal(t, 0, r.PendingCount())
}

func TestSetOutputDeviceAppliesToAllSinks(t *testing.T) {
	factory := newFakeFactory()
	r := NewRouter(factory, &captureNotifier{}, logger.Nop())

	require.NoError(t, r.Route(audioStream("p1")))
	factory.next = &fakeSink{deviceErr: errors.New("no such device")}
	require.NoError(t, r.Route(audioStream("p2")))

	// A per-sink failure does not stop the rest.
	err := r.SetOutputDevice("speakers")
	assert.Error(t, err)
	assert.Contains(t, factory.sinks["p1"].devices, "speakers")
	assert.Contains(t, factory.sinks["p2"].devices, "speakers")

	// Sinks created later inherit the chosen device.
	factory.next = nil
	require.NoError(t, r.Route(audioStream("p3")))
	assert.Contains(t, factory.sinks["p3"].devices, "speakers")
}

func TestUnbindDisposesSink(t *testing.T) {
	factory := newFakeFactory()
	r := NewRouter(factory, &captureNotifier{}, logger.Nop())

	require.NoError(t, r.Route(audioStream("p1")))
	r.Unbind("p1")
	assert.Equal(t, 1, factory.sinks["p1"].disposed)

	// Unknown participant is a no-op.
	r.Unbind("p2")
}

func TestUnbindAllIsIdempotent(t *testing.T) {
	factory := newFakeFactory()
	r := NewRouter(factory, &captureNotifier{}, logger.Nop())

	require.NoError(t, r.Route(audioStream("p1")))
	require.NoError(t, r.Route(audioStream("p2")))

	r.UnbindAll()
	r.UnbindAll()

	assert.Equal(t, 1, factory.sinks["p1"].disposed)
	assert.Equal(t, 1, factory.sinks["p2"].disposed)
	assert.Equal(t, 0, r.PendingCount())
}
