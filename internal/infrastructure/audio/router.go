package audio

import (
	"errors"
	"sync"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"

	"go.uber.org/zap"
)

// Router owns one playback sink per remote participant and keeps every sink
// audible: a sink is never muted and never plays below full volume. When the
// platform blocks playback until a user gesture, blocked sinks queue and are
// retried exactly once per gesture.
type Router struct {
	factory  ports.SinkFactory
	notifier ports.Notifier
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	sinks   map[domain.ParticipantID]ports.PlaybackSink
	pending map[domain.ParticipantID]struct{}
	device  string
}

func NewRouter(factory ports.SinkFactory, notifier ports.Notifier, logger *zap.SugaredLogger) *Router {
	return &Router{
		factory:  factory,
		notifier: notifier,
		logger:   logger,
		sinks:    make(map[domain.ParticipantID]ports.PlaybackSink),
		pending:  make(map[domain.ParticipantID]struct{}),
	}
}

// Route binds a remote stream to its participant's sink and starts playback.
// A stream arriving for a participant that already has a sink rebinds the
// source; the sink itself survives renegotiation.
func (r *Router) Route(stream *domain.RemoteStream) error {
	if stream == nil {
		return nil
	}
	if len(stream.Audio) == 0 {
		r.logger.Debugw("remote stream has no audio, nothing to route",
			"participant_id", stream.ParticipantID)
		return nil
	}

	r.mu.Lock()
	sink, ok := r.sinks[stream.ParticipantID]
	if !ok {
		sink = r.factory.NewSink(stream.ParticipantID)
		r.sinks[stream.ParticipantID] = sink
		if r.device != "" {
			if err := sink.SetOutputDevice(r.device); err != nil {
				r.logger.Warnw("output device not applied to new sink",
					"participant_id", stream.ParticipantID, "device_id", r.device, "error", err)
			}
		}
	}
	r.mu.Unlock()

	if err := sink.Bind(stream); err != nil {
		return err
	}
	return r.attemptPlay(stream.ParticipantID, sink)
}

// attemptPlay starts playback and, on an autoplay block, queues the sink for
// the next user gesture. Any other failure is surfaced to the caller.
func (r *Router) attemptPlay(id domain.ParticipantID, sink ports.PlaybackSink) error {
	err := sink.Play()
	if err == nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil
	}
	if !errors.Is(err, domain.ErrPlaybackBlocked) {
		return err
	}

	r.mu.Lock()
	_, alreadyQueued := r.pending[id]
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	r.logger.Warnw("audio playback blocked, waiting for user gesture", "participant_id", id)
	if !alreadyQueued && r.notifier != nil {
		r.notifier.Notify(domain.Notification{
			Level:         domain.NotifyWarning,
			Code:          domain.NotifyPlaybackBlocked,
			Message:       "click anywhere to enable audio",
			ParticipantID: id,
		})
	}
	return nil
}

// NotifyGesture drains the blocked queue. Each queued sink gets one retry;
// a sink blocked again re-queues through attemptPlay.
func (r *Router) NotifyGesture() {
	r.mu.Lock()
	queued := make([]domain.ParticipantID, 0, len(r.pending))
	for id := range r.pending {
		queued = append(queued, id)
	}
	r.pending = make(map[domain.ParticipantID]struct{})
	sinks := make(map[domain.ParticipantID]ports.PlaybackSink, len(queued))
	for _, id := range queued {
		if s, ok := r.sinks[id]; ok {
			sinks[id] = s
		}
	}
	r.mu.Unlock()

	for id, sink := range sinks {
		if err := r.attemptPlay(id, sink); err != nil {
			r.logger.Errorw("playback retry failed", "participant_id", id, "error", err)
		}
	}
}

// SetOutputDevice applies the device to every sink. A per-sink failure is
// logged and does not stop the rest; the chosen device still applies to
// sinks created later.
func (r *Router) SetOutputDevice(deviceID string) error {
	r.mu.Lock()
	r.device = deviceID
	sinks := make(map[domain.ParticipantID]ports.PlaybackSink, len(r.sinks))
	for id, s := range r.sinks {
		sinks[id] = s
	}
	r.mu.Unlock()

	var firstErr error
	for id, sink := range sinks {
		if err := sink.SetOutputDevice(deviceID); err != nil {
			r.logger.Warnw("output device switch failed for sink",
				"participant_id", id, "device_id", deviceID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Unbind disposes one participant's sink, typically on leave.
func (r *Router) Unbind(id domain.ParticipantID) {
	r.mu.Lock()
	sink, ok := r.sinks[id]
	delete(r.sinks, id)
	delete(r.pending, id)
	r.mu.Unlock()

	if ok {
		sink.Dispose()
	}
}

// UnbindAll disposes every sink and clears the blocked queue. Safe to call
// repeatedly.
func (r *Router) UnbindAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[domain.ParticipantID]ports.PlaybackSink)
	r.pending = make(map[domain.ParticipantID]struct{})
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Dispose()
	}
}

// PendingCount reports how many sinks are waiting on a user gesture.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
