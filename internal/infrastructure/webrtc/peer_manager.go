package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the platform WebRTC settings.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

type senderState struct {
	sender  *webrtc.RTPSender
	kind    domain.TrackKind
	enabled bool
}

// entry is one participant's connection. At most one entry exists per
// participant id; a second create replaces the first.
type entry struct {
	id        domain.ParticipantID
	pc        *webrtc.PeerConnection
	role      domain.NegotiationRole
	state     domain.ConnState
	senders   []*senderState
	remote    *domain.RemoteStream
	quality   float64
	createdAt time.Time
}

// Manager owns the participantId -> peer connection map and drives
// offer/answer/ICE negotiation for one session.
type Manager struct {
	config    Config
	channel   ports.SignalingChannel
	notifier  ports.Notifier
	meetingID domain.MeetingID
	self      domain.Identity

	entries map[domain.ParticipantID]*entry
	local   *domain.LocalStream
	mu      sync.RWMutex

	onRemoteStream func(*domain.RemoteStream)
	onStateChange  func(domain.ParticipantID, domain.ConnState)

	logger *zap.SugaredLogger
}

// NewManager creates a peer manager bound to one meeting and one local
// identity.
func NewManager(
	config Config,
	channel ports.SignalingChannel,
	notifier ports.Notifier,
	meetingID domain.MeetingID,
	self domain.Identity,
	logger *zap.SugaredLogger,
) *Manager {
	return &Manager{
		config:    config,
		channel:   channel,
		notifier:  notifier,
		meetingID: meetingID,
		self:      self,
		entries:   make(map[domain.ParticipantID]*entry),
		logger:    logger,
	}
}

func (m *Manager) OnRemoteStream(fn func(*domain.RemoteStream)) { m.onRemoteStream = fn }

func (m *Manager) OnStateChange(fn func(domain.ParticipantID, domain.ConnState)) {
	m.onStateChange = fn
}

// CreateForParticipant constructs a connection toward id, attaches every
// local track and, when offerer, immediately sends the offer. An existing
// entry for id is closed and replaced, never duplicated.
func (m *Manager) CreateForParticipant(ctx context.Context, id domain.ParticipantID, local *domain.LocalStream, isOfferer bool) error {
	pc, err := m.newPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	role := domain.RoleAnswerer
	if isOfferer {
		role = domain.RoleOfferer
	}

	e := &entry{
		id:        id,
		pc:        pc,
		role:      role,
		state:     domain.ConnStateNew,
		quality:   1.0,
		createdAt: time.Now(),
	}

	for _, t := range local.Tracks {
		sender, err := pc.AddTrack(t.Track)
		if err != nil {
			pc.Close()
			return fmt.Errorf("failed to add %s track: %w", t.Kind, err)
		}
		e.senders = append(e.senders, &senderState{sender: sender, kind: t.Kind, enabled: t.Enabled()})
	}

	pc.OnICECandidate(m.handleLocalCandidate(id))
	pc.OnTrack(m.handleRemoteTrack(id))
	pc.OnConnectionStateChange(m.handleConnectionState(id))

	m.mu.Lock()
	if old, exists := m.entries[id]; exists {
		m.logger.Infow("replacing existing connection", "participant_id", id)
		old.pc.Close()
	}
	m.entries[id] = e
	m.local = local
	m.mu.Unlock()

	if isOfferer {
		if err := m.sendOffer(ctx, e); err != nil {
			return err
		}
	}

	m.logger.Infow("peer connection created",
		"participant_id", id,
		"role", role,
	)
	return nil
}

// HandleSignalingMessage dispatches an inbound envelope by type. Unknown
// peers never abort the session: answers are logged and ignored, candidates
// are dropped without creating a connection as a side effect.
func (m *Manager) HandleSignalingMessage(ctx context.Context, msg domain.SignalMessage) error {
	switch msg.Type {
	case domain.SignalOffer:
		return m.handleOffer(ctx, msg)
	case domain.SignalAnswer:
		return m.handleAnswer(msg)
	case domain.SignalICECandidate:
		return m.handleCandidate(msg)
	default:
		return fmt.Errorf("unknown signal type: %s", msg.Type)
	}
}

func (m *Manager) handleOffer(ctx context.Context, msg domain.SignalMessage) error {
	m.mu.RLock()
	e, exists := m.entries[msg.From]
	local := m.local
	m.mu.RUnlock()

	if !exists {
		if local == nil {
			return fmt.Errorf("offer from %s before local stream is ready", msg.From)
		}
		if err := m.CreateForParticipant(ctx, msg.From, local, false); err != nil {
			return err
		}
		m.mu.RLock()
		e = m.entries[msg.From]
		m.mu.RUnlock()
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &offer); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}

	m.setState(e, domain.ConnStateConnecting)

	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local answer: %w", err)
	}

	return m.publish(ctx, msg.From, domain.SignalAnswer, answer)
}

func (m *Manager) handleAnswer(msg domain.SignalMessage) error {
	m.mu.RLock()
	e, exists := m.entries[msg.From]
	m.mu.RUnlock()

	if !exists {
		m.logger.Warnw("answer for unknown peer, ignoring", "participant_id", msg.From)
		return nil
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &answer); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}

	if err := e.pc.SetRemoteDescription(answer); err != nil {
		m.logger.Warnw("failed to set remote answer", "participant_id", msg.From, "error", err)
		return nil
	}
	return nil
}

func (m *Manager) handleCandidate(msg domain.SignalMessage) error {
	m.mu.RLock()
	e, exists := m.entries[msg.From]
	m.mu.RUnlock()

	if !exists {
		// No buffering: a candidate that outruns its offer is dropped.
		m.logger.Debugw("candidate for unknown peer, dropping", "participant_id", msg.From)
		return nil
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Payload, &candidate); err != nil {
		return fmt.Errorf("invalid candidate payload: %w", err)
	}

	if err := e.pc.AddICECandidate(candidate); err != nil {
		m.logger.Warnw("failed to add ICE candidate", "participant_id", msg.From, "error", err)
	}
	return nil
}

// SetTrackEnabled toggles every sender of the kind across every connection
// plus the shared local track. This is how mute and camera-off propagate;
// there is no renegotiation.
func (m *Manager) SetTrackEnabled(kind domain.TrackKind, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local != nil {
		for _, t := range m.local.TracksOfKind(kind) {
			t.SetEnabled(enabled)
		}
	}
	for _, e := range m.entries {
		for _, s := range e.senders {
			if s.kind == kind {
				s.enabled = enabled
			}
		}
	}
}

// TrackEnabled reports the recorded sender state for a participant's tracks
// of the kind. Second return is false when no such sender exists.
func (m *Manager) TrackEnabled(id domain.ParticipantID, kind domain.TrackKind) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[id]
	if !exists {
		return false, false
	}
	for _, s := range e.senders {
		if s.kind == kind {
			return s.enabled, true
		}
	}
	return false, false
}

// ReplaceVideoTrack swaps the outgoing video on every connection's first
// video sender without renegotiating. Used for screen share.
func (m *Manager) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var firstErr error
	for id, e := range m.entries {
		for _, s := range e.senders {
			if s.kind != domain.TrackKindVideo {
				continue
			}
			if err := s.sender.ReplaceTrack(track); err != nil {
				m.logger.Warnw("failed to replace video track", "participant_id", id, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
			break
		}
	}
	return firstErr
}

// CloseAll closes every connection and clears the map. Called once at
// session teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		if err := e.pc.Close(); err != nil {
			m.logger.Warnw("error closing peer connection", "participant_id", id, "error", err)
		}
		e.state = domain.ConnStateClosed
	}
	m.entries = make(map[domain.ParticipantID]*entry)
}

func (m *Manager) ConnState(id domain.ParticipantID) (domain.ConnState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, exists := m.entries[id]
	if !exists {
		return "", false
	}
	return e.state, true
}

// NetworkQuality returns the coarse 0..1 per-peer quality score derived from
// RTCP receiver reports. Not a bandwidth probe.
func (m *Manager) NetworkQuality(id domain.ParticipantID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, exists := m.entries[id]; exists {
		return e.quality
	}
	return 0
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Manager) Role(id domain.ParticipantID) (domain.NegotiationRole, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, exists := m.entries[id]
	if !exists {
		return "", false
	}
	return e.role, true
}

func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   m.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if m.config.PortRange.Min > 0 && m.config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(m.config.PortRange.Min, m.config.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

func (m *Manager) sendOffer(ctx context.Context, e *entry) error {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local offer: %w", err)
	}

	m.setState(e, domain.ConnStateConnecting)
	return m.publish(ctx, e.id, domain.SignalOffer, offer)
}

func (m *Manager) publish(ctx context.Context, to domain.ParticipantID, typ domain.SignalType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}

	msg := domain.SignalMessage{
		Type:     typ,
		From:     m.self.ID,
		FromName: m.self.DisplayName,
		To:       to,
		Payload:  data,
	}

	// Best-effort: delivery failures are logged, never retried.
	if err := m.channel.Publish(ctx, m.meetingID, msg); err != nil {
		m.logger.Warnw("signaling publish failed",
			"type", typ,
			"to", to,
			"error", err,
		)
	}
	return nil
}

func (m *Manager) handleLocalCandidate(id domain.ParticipantID) func(*webrtc.ICECandidate) {
	return func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.publish(context.Background(), id, domain.SignalICECandidate, c.ToJSON()); err != nil {
			m.logger.Warnw("failed to publish ICE candidate", "participant_id", id, "error", err)
		}
	}
}

func (m *Manager) handleRemoteTrack(id domain.ParticipantID) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.logger.Infow("remote track arrived",
			"participant_id", id,
			"track_id", track.ID(),
			"kind", track.Kind(),
			"codec", track.Codec().MimeType,
		)

		m.mu.Lock()
		e, exists := m.entries[id]
		if !exists {
			m.mu.Unlock()
			return
		}
		if e.remote == nil {
			e.remote = &domain.RemoteStream{ParticipantID: id, StreamID: track.StreamID()}
		}
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			e.remote.Audio = append(e.remote.Audio, track)
		} else {
			e.remote.Video = append(e.remote.Video, track)
		}
		remote := e.remote
		m.mu.Unlock()

		go m.readRTCP(id, receiver)

		if m.onRemoteStream != nil {
			m.onRemoteStream(remote)
		}
	}
}

func (m *Manager) handleConnectionState(id domain.ParticipantID) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state changed",
			"participant_id", id,
			"connection_state", state,
		)

		mapped, ok := mapConnState(state)
		if !ok {
			return
		}

		m.mu.Lock()
		e, exists := m.entries[id]
		if exists {
			e.state = mapped
		}
		m.mu.Unlock()
		if !exists {
			return
		}

		switch mapped {
		case domain.ConnStateConnected:
			m.notify(domain.NotifyInfo, domain.NotifyConnected, id, "connection established")
		case domain.ConnStateFailed, domain.ConnStateDisconnected:
			// Surfaced to the user; the entry stays, no automatic retry.
			m.notify(domain.NotifyWarning, domain.NotifyConnectionLost, id, "connection lost")
		}

		if m.onStateChange != nil {
			m.onStateChange(id, mapped)
		}
	}
}

// readRTCP feeds the coarse network-quality heuristic from receiver reports.
func (m *Manager) readRTCP(id domain.ParticipantID, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}

		var lost float64
		var reports int
		for _, packet := range packets {
			if rr, ok := packet.(*rtcp.ReceiverReport); ok {
				for _, report := range rr.Reports {
					lost += float64(report.FractionLost) / 255.0
					reports++
				}
			}
		}
		if reports == 0 {
			continue
		}

		quality := 1.0 - lost/float64(reports)
		m.mu.Lock()
		if e, exists := m.entries[id]; exists {
			e.quality = quality
		}
		m.mu.Unlock()
	}
}

func (m *Manager) setState(e *entry, state domain.ConnState) {
	m.mu.Lock()
	e.state = state
	m.mu.Unlock()
	if m.onStateChange != nil {
		m.onStateChange(e.id, state)
	}
}

func (m *Manager) notify(level domain.NotificationLevel, code domain.NotificationCode, id domain.ParticipantID, msg string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(domain.Notification{
		Level:         level,
		Code:          code,
		Message:       msg,
		ParticipantID: id,
		Timestamp:     time.Now(),
	})
}

func mapConnState(s webrtc.PeerConnectionState) (domain.ConnState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnStateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnStateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnStateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnStateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnStateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnStateClosed, true
	default:
		return "", false
	}
}
