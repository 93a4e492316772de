package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"
	"meetmesh/internal/infrastructure/repositories/memory"
	"meetmesh/pkg/logger"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createdConn struct {
	id      domain.ParticipantID
	offerer bool
}

type trackToggle struct {
	kind    domain.TrackKind
	enabled bool
}

type fakePeerManager struct {
	mu       sync.Mutex
	created  []createdConn
	toggles  []trackToggle
	replaced []webrtc.TrackLocal
	closes   int
	states   map[domain.ParticipantID]domain.ConnState
	handled  []domain.SignalMessage

	onRemote func(*domain.RemoteStream)
	onState  func(domain.ParticipantID, domain.ConnState)
}

func newFakePeerManager() *fakePeerManager {
	return &fakePeerManager{states: make(map[domain.ParticipantID]domain.ConnState)}
}

func (f *fakePeerManager) CreateForParticipant(ctx context.Context, id domain.ParticipantID, local *domain.LocalStream, isOfferer bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createdConn{id: id, offerer: isOfferer})
	f.states[id] = domain.ConnStateConnecting
	return nil
}

func (f *fakePeerManager) HandleSignalingMessage(ctx context.Context, msg domain.SignalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, msg)
	return nil
}

func (f *fakePeerManager) SetTrackEnabled(kind domain.TrackKind, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, trackToggle{kind: kind, enabled: enabled})
}

func (f *fakePeerManager) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, track)
	return nil
}

func (f *fakePeerManager) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.states = make(map[domain.ParticipantID]domain.ConnState)
}

func (f *fakePeerManager) ConnState(id domain.ParticipantID) (domain.ConnState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[id]
	return s, ok
}

func (f *fakePeerManager) NetworkQuality(id domain.ParticipantID) float64 { return 1.0 }

func (f *fakePeerManager) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func (f *fakePeerManager) OnRemoteStream(fn func(*domain.RemoteStream)) { f.onRemote = fn }
func (f *fakePeerManager) OnStateChange(fn func(domain.ParticipantID, domain.ConnState)) {
	f.onState = fn
}

func (f *fakePeerManager) createdConns() []createdConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createdConn(nil), f.created...)
}

func (f *fakePeerManager) trackToggles() []trackToggle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]trackToggle(nil), f.toggles...)
}

type fakeAcquirer struct {
	err    error
	stream *domain.LocalStream
}

func (a *fakeAcquirer) Acquire(ctx context.Context, profile domain.QualityProfile) (*domain.LocalStream, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.stream, nil
}

type fakeLevels struct {
	mu      sync.Mutex
	onLevel func(float64)
	stops   int
}

func (l *fakeLevels) Start(stream *domain.LocalStream, onLevel func(float64)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLevel = onLevel
	return nil
}

func (l *fakeLevels) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *fakeLevels) emit(level float64) {
	l.mu.Lock()
	fn := l.onLevel
	l.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}

type fakeAudioRouter struct {
	mu        sync.Mutex
	routed    []*domain.RemoteStream
	gestures  int
	unbindAll int
	devices   []string
}

func (r *fakeAudioRouter) Route(stream *domain.RemoteStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, stream)
	return nil
}

func (r *fakeAudioRouter) NotifyGesture() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gestures++
}

func (r *fakeAudioRouter) SetOutputDevice(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, deviceID)
	return nil
}

func (r *fakeAudioRouter) Unbind(id domain.ParticipantID) {}

func (r *fakeAudioRouter) UnbindAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindAll++
}

type fakeIdentity struct {
	ident domain.Identity
}

func (f *fakeIdentity) Current(ctx context.Context) (domain.Identity, error) {
	return f.ident, nil
}

type fakeCapture struct {
	mu     sync.Mutex
	screen int
}

func (d *fakeCapture) OpenAudio(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	return domain.NewLocalTrack("audio", domain.TrackKindAudio, nil), nil
}

func (d *fakeCapture) OpenVideo(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	return domain.NewLocalTrack("video", domain.TrackKindVideo, nil), nil
}

func (d *fakeCapture) OpenScreen(ctx context.Context, c domain.MediaConstraints) (*domain.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screen++
	return domain.NewLocalTrack("screen", domain.TrackKindVideo, nil), nil
}

type fixture struct {
	orch    *Orchestrator
	pm      *fakePeerManager
	store   *memory.ParticipantStore
	channel *memory.SignalingChannel
	levels  *fakeLevels
	router  *fakeAudioRouter
	device  *fakeCapture
	toasts  *ToastCenter
	ident   *fakeIdentity
}

func testStream() *domain.LocalStream {
	return &domain.LocalStream{
		ID: "stm_local",
		Tracks: []*domain.LocalTrack{
			domain.NewLocalTrack("audio", domain.TrackKindAudio, nil),
			domain.NewLocalTrack("video", domain.TrackKindVideo, nil),
		},
		PCM: domain.NewPCMTap(),
	}
}

func newFixture(acquireErr error) *fixture {
	f := &fixture{
		pm:      newFakePeerManager(),
		store:   memory.NewParticipantStore(),
		channel: memory.NewSignalingChannel(),
		levels:  &fakeLevels{},
		router:  &fakeAudioRouter{},
		device:  &fakeCapture{},
		toasts:  NewToastCenter(logger.Nop()),
		ident:   &fakeIdentity{ident: domain.Identity{ID: "self", DisplayName: "Self"}},
	}

	factory := func(meetingID domain.MeetingID, self domain.Identity) ports.PeerManager {
		return f.pm
	}

	opts := DefaultOptions()
	opts.QualityInterval = 50 * time.Millisecond

	f.orch = NewOrchestrator(
		opts,
		f.store,
		f.channel,
		f.ident,
		&fakeAcquirer{err: acquireErr, stream: testStream()},
		f.levels,
		f.router,
		factory,
		f.device,
		f.toasts,
		nil,
		logger.Nop(),
	)
	return f
}

func TestJoinHappyPath(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Join(ctx, "m1"))
	assert.Equal(t, domain.SessionConnected, f.orch.State())

	rows, err := f.store.Query(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ParticipantID("self"), rows[0].ID)

	snaps := f.orch.Participants()
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.ParticipantID("self"), snaps[0].ID)
}

func TestModeratorFlagCarriedFromIdentity(t *testing.T) {
	f := newFixture(nil)
	f.ident.ident.IsModerator = true
	ctx := context.Background()

	require.NoError(t, f.orch.Join(ctx, "m1"))

	rows, err := f.store.Query(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsModerator)

	snaps := f.orch.Participants()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].IsModerator)
}

func TestJoinTwiceIsConflict(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Join(ctx, "m1"))
	assert.ErrorIs(t, f.orch.Join(ctx, "m1"), domain.ErrAlreadyJoined)
}

func TestJoinMediaFailureIsFatal(t *testing.T) {
	f := newFixture(domain.ErrPermissionDenied)
	ctx := context.Background()

	err := f.orch.Join(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.SessionDisconnected, f.orch.State())

	// Presence was never announced.
	rows, qerr := f.store.Query(ctx, "m1")
	require.NoError(t, qerr)
	assert.Empty(t, rows)

	var fatal int
	for _, n := range f.toasts.Recent() {
		if n.Code == domain.NotifyMediaFailed {
			fatal++
		}
	}
	assert.Equal(t, 1, fatal)
}

func TestExistingParticipantsAreRecordedNotOffered(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, f.store.Insert(ctx, "m1", &domain.Participant{ID: "old", DisplayName: "Old", JoinedAt: time.Now()}))
	require.NoError(t, f.orch.Join(ctx, "m1"))

	// The side already present offers; the joiner only records the roster.
	assert.Empty(t, f.pm.createdConns())

	snaps := f.orch.Participants()
	require.Len(t, snaps, 2)
	assert.Equal(t, domain.ParticipantID("old"), snaps[1].ID)
}

func TestNewParticipantTriggersOffer(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Join(ctx, "m1"))
	require.NoError(t, f.store.Insert(ctx, "m1", &domain.Participant{ID: "new", DisplayName: "New", JoinedAt: time.Now()}))

	conns := f.pm.createdConns()
	require.Len(t, conns, 1)
	assert.Equal(t, domain.ParticipantID("new"), conns[0].id)
	assert.True(t, conns[0].offerer)
}

func TestOwnInsertDoesNotSelfConnect(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.orch.Join(context.Background(), "m1"))
	assert.Empty(t, f.pm.createdConns())
}

func TestInboundSignalIsDelegated(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Join(ctx, "m1"))
	require.NoError(t, f.channel.Publish(ctx, "m1", domain.SignalMessage{
		Type:     domain.SignalOffer,
		From:     "peer",
		FromName: "Peer",
		To:       "self",
	}))

	f.pm.mu.Lock()
	handled := len(f.pm.handled)
	f.pm.mu.Unlock()
	assert.Equal(t, 1, handled)

	// An offer from a participant the roster has not seen adds them.
	snaps := f.orch.Participants()
	require.Len(t, snaps, 2)
	assert.Equal(t, domain.ParticipantID("peer"), snaps[1].ID)
	assert.Equal(t, "Peer", snaps[1].DisplayName)
}

func TestToggleMute(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.orch.ToggleMute(ctx)
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	require.NoError(t, f.orch.Join(ctx, "m1"))

	muted, err := f.orch.ToggleMute(ctx)
	require.NoError(t, err)
	assert.True(t, muted)

	muted, err = f.orch.ToggleMute(ctx)
	require.NoError(t, err)
	assert.False(t, muted)

	toggles := f.pm.trackToggles()
	require.Len(t, toggles, 2)
	assert.Equal(t, trackToggle{kind: domain.TrackKindAudio, enabled: false}, toggles[0])
	assert.Equal(t, trackToggle{kind: domain.TrackKindAudio, enabled: true}, toggles[1])
}

func TestToggleVideo(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	require.NoError(t, f.orch.Join(ctx, "m1"))

	videoOff, err := f.orch.ToggleVideo(ctx)
	require.NoError(t, err)
	assert.True(t, videoOff)

	toggles := f.pm.trackToggles()
	require.Len(t, toggles, 1)
	assert.Equal(t, trackToggle{kind: domain.TrackKindVideo, enabled: false}, toggles[0])
}

func TestToggleScreenShare(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	require.NoError(t, f.orch.Join(ctx, "m1"))

	sharing, err := f.orch.ToggleScreenShare(ctx)
	require.NoError(t, err)
	assert.True(t, sharing)

	sharing, err = f.orch.ToggleScreenShare(ctx)
	require.NoError(t, err)
	assert.False(t, sharing)

	f.pm.mu.Lock()
	replaced := len(f.pm.replaced)
	f.pm.mu.Unlock()
	assert.Equal(t, 2, replaced)

	f.device.mu.Lock()
	screens := f.device.screen
	f.device.mu.Unlock()
	assert.Equal(t, 1, screens)
}

func TestSpeakingThreshold(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.orch.Join(context.Background(), "m1"))

	f.levels.emit(0.06)
	assert.True(t, f.orch.Participants()[0].IsSpeaking)

	f.levels.emit(0.01)
	assert.False(t, f.orch.Participants()[0].IsSpeaking)
}

func TestEndCallIsIdempotent(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	require.NoError(t, f.orch.Join(ctx, "m1"))

	require.NoError(t, f.orch.EndCall(ctx))
	require.NoError(t, f.orch.EndCall(ctx))

	assert.Equal(t, domain.SessionDisconnected, f.orch.State())
	assert.Equal(t, time.Duration(0), f.orch.Duration())

	f.pm.mu.Lock()
	closes := f.pm.closes
	f.pm.mu.Unlock()
	assert.Equal(t, 1, closes)

	f.router.mu.Lock()
	unbinds := f.router.unbindAll
	f.router.mu.Unlock()
	assert.Equal(t, 1, unbinds)

	rows, err := f.store.Query(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRejoinAfterEndCall(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Join(ctx, "m1"))
	require.NoError(t, f.orch.EndCall(ctx))
	require.NoError(t, f.orch.Join(ctx, "m1"))
	assert.Equal(t, domain.SessionConnected, f.orch.State())
}

func TestInsertsAfterEndCallAreIgnored(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Join(ctx, "m1"))
	require.NoError(t, f.orch.EndCall(ctx))

	require.NoError(t, f.store.Insert(ctx, "m1", &domain.Participant{ID: "late", JoinedAt: time.Now()}))
	assert.Empty(t, f.pm.createdConns())
}

func TestPinParticipantToggles(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	require.NoError(t, f.orch.Join(ctx, "m1"))
	require.NoError(t, f.store.Insert(ctx, "m1", &domain.Participant{ID: "peer", JoinedAt: time.Now()}))

	f.orch.PinParticipant("peer")
	snaps := f.orch.Participants()
	require.Len(t, snaps, 2)
	assert.True(t, snaps[1].IsPinned)

	f.orch.PinParticipant("peer")
	snaps = f.orch.Participants()
	assert.False(t, snaps[1].IsPinned)
}

func TestGestureAndOutputDeviceDelegate(t *testing.T) {
	f := newFixture(nil)

	f.orch.NotifyGesture()
	require.NoError(t, f.orch.SetAudioOutput("speakers"))

	f.router.mu.Lock()
	defer f.router.mu.Unlock()
	assert.Equal(t, 1, f.router.gestures)
	assert.Equal(t, []string{"speakers"}, f.router.devices)
}

func TestRemoteStreamIsRouted(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.orch.Join(context.Background(), "m1"))

	require.NotNil(t, f.pm.onRemote)
	f.pm.onRemote(&domain.RemoteStream{ParticipantID: "peer"})

	f.router.mu.Lock()
	defer f.router.mu.Unlock()
	require.Len(t, f.router.routed, 1)
	assert.Equal(t, domain.ParticipantID("peer"), f.router.routed[0].ParticipantID)
}

func TestParticipantsOrderedByJoinTime(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	require.NoError(t, f.orch.Join(ctx, "m1"))

	base := time.Now()
	require.NoError(t, f.store.Insert(ctx, "m1", &domain.Participant{ID: "late", JoinedAt: base.Add(time.Minute)}))
	require.NoError(t, f.store.Insert(ctx, "m1", &domain.Participant{ID: "early", JoinedAt: base}))

	snaps := f.orch.Participants()
	require.Len(t, snaps, 3)
	assert.Equal(t, domain.ParticipantID("self"), snaps[0].ID)
	assert.Equal(t, domain.ParticipantID("early"), snaps[1].ID)
	assert.Equal(t, domain.ParticipantID("late"), snaps[2].ID)
}
