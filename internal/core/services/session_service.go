package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"
	"meetmesh/pkg/retry"
	"meetmesh/pkg/tracing"

	"go.uber.org/zap"
)

// Options carries the session-level policy knobs.
type Options struct {
	QualityProfile domain.QualityProfile
	// SpeakingLevel is the normalized 0..1 audio level above which the local
	// participant is marked speaking.
	SpeakingLevel float64
	// QualityInterval is the sampling period for per-peer network quality.
	QualityInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		QualityProfile:  domain.QualityMedium,
		SpeakingLevel:   0.05,
		QualityInterval: 5 * time.Second,
	}
}

// Orchestrator drives one participant's session: media acquisition, roster
// tracking, peer connection fan-out and teardown. The side that is already
// present offers to the joiner; the joiner answers. Exactly one side offers
// per pair, which avoids glare.
type Orchestrator struct {
	opts     Options
	store    ports.ParticipantStore
	channel  ports.SignalingChannel
	identity ports.IdentityProvider
	acquirer ports.MediaAcquirer
	levels   ports.LevelMonitor
	router   ports.AudioRouter
	factory  ports.PeerManagerFactory
	device   ports.CaptureDevice
	notifier ports.Notifier
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger

	mu           sync.RWMutex
	state        domain.SessionState
	meetingID    domain.MeetingID
	self         domain.Participant
	local        *domain.LocalStream
	peers        ports.PeerManager
	roster       map[domain.ParticipantID]*domain.Participant
	connStates   map[domain.ParticipantID]domain.ConnState
	negotiating  map[domain.ParticipantID]time.Time
	pinned       domain.ParticipantID
	joinedAt     time.Time
	unsubscribes []func()
	stopQuality  chan struct{}
	muted        bool
	videoOff     bool
	sharing      bool
	cameraTrack  *domain.LocalTrack
}

func NewOrchestrator(
	opts Options,
	store ports.ParticipantStore,
	channel ports.SignalingChannel,
	identity ports.IdentityProvider,
	acquirer ports.MediaAcquirer,
	levels ports.LevelMonitor,
	router ports.AudioRouter,
	factory ports.PeerManagerFactory,
	device ports.CaptureDevice,
	notifier ports.Notifier,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		opts:        opts,
		store:       store,
		channel:     channel,
		identity:    identity,
		acquirer:    acquirer,
		levels:      levels,
		router:      router,
		factory:     factory,
		device:      device,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		state:       domain.SessionDisconnected,
		roster:      make(map[domain.ParticipantID]*domain.Participant),
		connStates:  make(map[domain.ParticipantID]domain.ConnState),
		negotiating: make(map[domain.ParticipantID]time.Time),
	}
}

// Join runs the full connect sequence. Media acquisition failure is fatal:
// the session stays disconnected and the error is surfaced. Per-peer
// failures later never abort the session.
func (o *Orchestrator) Join(ctx context.Context, meetingID domain.MeetingID) error {
	o.mu.Lock()
	if o.state != domain.SessionDisconnected {
		o.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	o.state = domain.SessionConnecting
	o.meetingID = meetingID
	o.mu.Unlock()

	err := o.join(ctx, meetingID)
	if err != nil {
		o.teardown(ctx, false)
		return err
	}

	o.mu.Lock()
	o.state = domain.SessionConnected
	o.joinedAt = time.Now()
	o.mu.Unlock()

	o.logger.Infow("session connected", "meeting_id", meetingID, "participant_id", o.self.ID)
	return nil
}

func (o *Orchestrator) join(ctx context.Context, meetingID domain.MeetingID) error {
	ident, err := o.identity.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}

	ctx, span := tracing.TraceSession(ctx, "join", string(meetingID), string(ident.ID))
	defer span.End()

	local, err := o.acquirer.Acquire(ctx, o.opts.QualityProfile)
	if err != nil {
		tracing.RecordError(ctx, err)
		o.notify(domain.NotifyError, domain.NotifyMediaFailed, "", "camera or microphone unavailable")
		return fmt.Errorf("media acquisition failed: %w", err)
	}

	self := domain.Participant{
		ID:          ident.ID,
		DisplayName: ident.DisplayName,
		IsModerator: ident.IsModerator,
		IsPresent:   true,
		JoinedAt:    time.Now(),
	}
	peers := o.factory(meetingID, ident)
	peers.OnRemoteStream(o.handleRemoteStream)
	peers.OnStateChange(o.handlePeerState)

	o.mu.Lock()
	o.self = self
	o.local = local
	o.peers = peers
	var camera *domain.LocalTrack
	if videos := local.TracksOfKind(domain.TrackKindVideo); len(videos) > 0 {
		camera = videos[0]
	}
	o.cameraTrack = camera
	o.mu.Unlock()

	// Subscribe to signaling before announcing presence so no offer
	// addressed to us is missed.
	unsubSignal, err := o.channel.Subscribe(ctx, meetingID, ident.ID, o.handleSignal)
	if err != nil {
		return fmt.Errorf("failed to subscribe to signaling: %w", err)
	}
	o.addUnsubscribe(unsubSignal)

	// Roster inserts after ours make us the already-present side: we offer.
	unsubInserts, err := o.store.SubscribeInserts(ctx, meetingID, o.handleRosterInsert)
	if err != nil {
		return fmt.Errorf("failed to subscribe to roster: %w", err)
	}
	o.addUnsubscribe(unsubInserts)

	// Snapshot the room before announcing. Everyone already present will
	// offer to us once our insert lands; we only record them.
	existing, err := o.store.Query(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("failed to query roster: %w", err)
	}
	o.mu.Lock()
	for _, p := range existing {
		if p.ID == ident.ID {
			continue
		}
		cp := *p
		o.roster[p.ID] = &cp
	}
	o.mu.Unlock()

	insertCfg := retry.DefaultConfig()
	insertCfg.NonRetryableErrors = []error{domain.ErrAlreadyJoined}
	if err := retry.Do(ctx, insertCfg, func() error {
		return o.store.Insert(ctx, meetingID, &self)
	}); err != nil {
		return fmt.Errorf("failed to announce presence: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordParticipantJoined()
	}

	if err := o.levels.Start(local, o.handleLevel); err != nil {
		// Degraded: no speaking indicator, the session continues.
		o.logger.Warnw("level monitor not started", "error", err)
	}

	stop := make(chan struct{})
	o.mu.Lock()
	o.stopQuality = stop
	o.mu.Unlock()
	go o.sampleQuality(stop)

	return nil
}

// handleRosterInsert reacts to a new participant announcing presence. We are
// already present, so we are the offerer toward them.
func (o *Orchestrator) handleRosterInsert(p *domain.Participant) {
	o.mu.Lock()
	if o.state == domain.SessionDisconnected || p.ID == o.self.ID {
		o.mu.Unlock()
		return
	}
	cp := *p
	o.roster[p.ID] = &cp
	o.negotiating[p.ID] = time.Now()
	peers := o.peers
	local := o.local
	o.mu.Unlock()

	o.logger.Infow("participant joined, offering", "participant_id", p.ID, "display_name", p.DisplayName)

	ctx, span := tracing.TraceNegotiation(context.Background(), "offer", string(p.ID))
	defer span.End()

	if err := peers.CreateForParticipant(ctx, p.ID, local, true); err != nil {
		// Per-peer failure, the rest of the session is unaffected.
		tracing.RecordError(ctx, err)
		o.logger.Errorw("failed to connect to new participant", "participant_id", p.ID, "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.RecordConnectionCreated()
	}
}

func (o *Orchestrator) handleSignal(msg domain.SignalMessage) {
	o.mu.RLock()
	peers := o.peers
	active := o.state != domain.SessionDisconnected
	o.mu.RUnlock()
	if !active || peers == nil {
		return
	}

	if o.metrics != nil {
		o.metrics.RecordSignalingMessage(msg.Type, "inbound")
	}

	// An offer implies a participant we may not have seen via the roster yet.
	if msg.Type == domain.SignalOffer {
		o.mu.Lock()
		if _, known := o.roster[msg.From]; !known {
			o.roster[msg.From] = &domain.Participant{
				ID:          msg.From,
				DisplayName: msg.FromName,
				IsPresent:   true,
				JoinedAt:    time.Now(),
			}
		}
		if _, pending := o.negotiating[msg.From]; !pending {
			o.negotiating[msg.From] = time.Now()
		}
		o.mu.Unlock()
	}

	if err := peers.HandleSignalingMessage(context.Background(), msg); err != nil {
		o.logger.Errorw("signaling message failed",
			"type", msg.Type, "from", msg.From, "error", err)
	}
}

func (o *Orchestrator) handleRemoteStream(stream *domain.RemoteStream) {
	if err := o.router.Route(stream); err != nil {
		o.logger.Errorw("failed to route remote audio", "participant_id", stream.ParticipantID, "error", err)
	}
}

func (o *Orchestrator) handlePeerState(id domain.ParticipantID, state domain.ConnState) {
	o.logger.Debugw("peer state", "participant_id", id, "state", state)

	o.mu.Lock()
	prev := o.connStates[id]
	if state == domain.ConnStateClosed {
		delete(o.connStates, id)
	} else {
		o.connStates[id] = state
	}
	started, negotiating := o.negotiating[id]
	if negotiating && (state == domain.ConnStateConnected || state.Terminal()) {
		delete(o.negotiating, id)
	}
	o.mu.Unlock()

	if o.metrics != nil {
		next := state
		if state == domain.ConnStateClosed {
			next = ""
		}
		o.metrics.RecordConnectionState(prev, next)
		if negotiating {
			switch {
			case state == domain.ConnStateConnected:
				o.metrics.RecordNegotiationComplete(time.Since(started))
			case state == domain.ConnStateFailed:
				o.metrics.RecordNegotiationFailure()
			}
		}
	}

	if state == domain.ConnStateClosed {
		o.router.Unbind(id)
		if o.metrics != nil {
			o.metrics.ForgetParticipant(id)
		}
	}
}

func (o *Orchestrator) handleLevel(level float64) {
	speaking := level >= o.opts.SpeakingLevel
	o.mu.Lock()
	o.self.IsSpeaking = speaking
	o.mu.Unlock()
}

func (o *Orchestrator) sampleQuality(stop chan struct{}) {
	ticker := time.NewTicker(o.opts.QualityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if o.metrics == nil {
				continue
			}
			o.mu.RLock()
			peers := o.peers
			ids := make([]domain.ParticipantID, 0, len(o.roster))
			for id := range o.roster {
				ids = append(ids, id)
			}
			o.mu.RUnlock()
			if peers == nil {
				continue
			}
			for _, id := range ids {
				if _, ok := peers.ConnState(id); ok {
					o.metrics.RecordNetworkQuality(id, peers.NetworkQuality(id))
				}
			}
		}
	}
}

// EndCall tears the session down. Idempotent: a second call is a no-op.
func (o *Orchestrator) EndCall(ctx context.Context) error {
	o.mu.RLock()
	if o.state == domain.SessionDisconnected {
		o.mu.RUnlock()
		return nil
	}
	meetingID := o.meetingID
	selfID := o.self.ID
	o.mu.RUnlock()

	ctx, span := tracing.TraceSession(ctx, "end_call", string(meetingID), string(selfID))
	defer span.End()

	o.teardown(ctx, true)
	o.logger.Infow("session ended", "meeting_id", meetingID, "participant_id", selfID)
	return nil
}

// teardown releases everything a partially or fully connected session holds.
// Every step tolerates the previous ones having never run.
func (o *Orchestrator) teardown(ctx context.Context, announced bool) {
	o.levels.Stop()

	o.mu.Lock()
	if o.stopQuality != nil {
		close(o.stopQuality)
		o.stopQuality = nil
	}
	unsubs := o.unsubscribes
	o.unsubscribes = nil
	peers := o.peers
	meetingID := o.meetingID
	selfID := o.self.ID
	joinedAt := o.joinedAt
	o.peers = nil
	o.local = nil
	o.cameraTrack = nil
	o.roster = make(map[domain.ParticipantID]*domain.Participant)
	o.connStates = make(map[domain.ParticipantID]domain.ConnState)
	o.negotiating = make(map[domain.ParticipantID]time.Time)
	o.pinned = ""
	o.muted = false
	o.videoOff = false
	o.sharing = false
	o.state = domain.SessionDisconnected
	o.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if peers != nil {
		peers.CloseAll()
	}
	o.router.UnbindAll()

	if announced {
		if err := o.store.MarkLeft(ctx, meetingID, selfID); err != nil {
			o.logger.Warnw("failed to mark participant left", "participant_id", selfID, "error", err)
		}
		if o.metrics != nil {
			o.metrics.RecordParticipantLeft()
			if !joinedAt.IsZero() {
				o.metrics.RecordSessionEnded(time.Since(joinedAt))
			}
		}
	}
}

// ToggleMute flips the microphone and returns the new muted state.
func (o *Orchestrator) ToggleMute(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.state != domain.SessionConnected {
		o.mu.Unlock()
		return false, domain.ErrNotConnected
	}
	o.muted = !o.muted
	muted := o.muted
	o.self.IsMuted = muted
	peers := o.peers
	o.mu.Unlock()

	peers.SetTrackEnabled(domain.TrackKindAudio, !muted)
	o.logger.Infow("microphone toggled", "muted", muted)
	return muted, nil
}

// ToggleVideo flips the camera and returns the new video-off state.
func (o *Orchestrator) ToggleVideo(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.state != domain.SessionConnected {
		o.mu.Unlock()
		return false, domain.ErrNotConnected
	}
	o.videoOff = !o.videoOff
	videoOff := o.videoOff
	o.self.IsVideoOff = videoOff
	peers := o.peers
	o.mu.Unlock()

	peers.SetTrackEnabled(domain.TrackKindVideo, !videoOff)
	o.logger.Infow("camera toggled", "video_off", videoOff)
	return videoOff, nil
}

// ToggleScreenShare swaps the outgoing video between the screen capture and
// the camera on every connection, without renegotiation.
func (o *Orchestrator) ToggleScreenShare(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.state != domain.SessionConnected {
		o.mu.Unlock()
		return false, domain.ErrNotConnected
	}
	sharing := o.sharing
	peers := o.peers
	camera := o.cameraTrack
	o.mu.Unlock()

	if !sharing {
		screen, err := o.device.OpenScreen(ctx, o.opts.QualityProfile.Constraints())
		if err != nil {
			return false, fmt.Errorf("screen capture failed: %w", err)
		}
		if err := peers.ReplaceVideoTrack(screen.Track); err != nil {
			return false, fmt.Errorf("failed to switch to screen share: %w", err)
		}
	} else {
		if camera == nil {
			return true, domain.ErrDeviceUnavailable
		}
		if err := peers.ReplaceVideoTrack(camera.Track); err != nil {
			return true, fmt.Errorf("failed to restore camera: %w", err)
		}
	}

	o.mu.Lock()
	o.sharing = !sharing
	now := o.sharing
	o.mu.Unlock()

	o.logger.Infow("screen share toggled", "sharing", now)
	return now, nil
}

// PinParticipant marks one participant as pinned; pinning the same id again
// unpins. Pinning is local UI state, nothing is signaled.
func (o *Orchestrator) PinParticipant(id domain.ParticipantID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pinned == id {
		o.pinned = ""
		return
	}
	o.pinned = id
}

func (o *Orchestrator) SetAudioOutput(deviceID string) error {
	return o.router.SetOutputDevice(deviceID)
}

// NotifyGesture reports a user gesture, unblocking any audio sinks waiting
// on autoplay policy.
func (o *Orchestrator) NotifyGesture() {
	o.router.NotifyGesture()
}

func (o *Orchestrator) State() domain.SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Duration reports time since the session connected, zero when disconnected.
func (o *Orchestrator) Duration() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state != domain.SessionConnected || o.joinedAt.IsZero() {
		return 0
	}
	return time.Since(o.joinedAt)
}

// Participants returns the UI roster: self first, the rest ordered by join
// time, each row annotated with live connection state and quality.
func (o *Orchestrator) Participants() []domain.ParticipantSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.state == domain.SessionDisconnected {
		return nil
	}

	out := make([]domain.ParticipantSnapshot, 0, len(o.roster)+1)
	out = append(out, domain.ParticipantSnapshot{
		Participant: o.self,
		ConnState:   domain.ConnStateConnected,
		IsPinned:    o.pinned == o.self.ID,
	})

	others := make([]*domain.Participant, 0, len(o.roster))
	for _, p := range o.roster {
		others = append(others, p)
	}
	sort.Slice(others, func(i, j int) bool {
		if others[i].JoinedAt.Equal(others[j].JoinedAt) {
			return others[i].ID < others[j].ID
		}
		return others[i].JoinedAt.Before(others[j].JoinedAt)
	})

	for _, p := range others {
		snap := domain.ParticipantSnapshot{
			Participant: *p,
			IsPinned:    o.pinned == p.ID,
		}
		if o.peers != nil {
			if state, ok := o.peers.ConnState(p.ID); ok {
				snap.ConnState = state
				snap.NetworkQuality = o.peers.NetworkQuality(p.ID)
			}
		}
		out = append(out, snap)
	}
	return out
}

// Notifications exposes the toast history when the notifier is a ToastCenter.
func (o *Orchestrator) Notifications() []domain.Notification {
	if tc, ok := o.notifier.(*ToastCenter); ok {
		return tc.Recent()
	}
	return nil
}

func (o *Orchestrator) addUnsubscribe(fn func()) {
	o.mu.Lock()
	o.unsubscribes = append(o.unsubscribes, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) notify(level domain.NotificationLevel, code domain.NotificationCode, id domain.ParticipantID, msg string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(domain.Notification{
		Level:         level,
		Code:          code,
		Message:       msg,
		ParticipantID: id,
		Timestamp:     time.Now(),
	})
}
