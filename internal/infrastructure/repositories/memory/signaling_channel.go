package memory

import (
	"context"
	"sync"

	"meetmesh/internal/core/domain"
)

type subscriber struct {
	selfID domain.ParticipantID
	fn     func(domain.SignalMessage)
}

// SignalingChannel is an in-process signaling bus. Delivery is synchronous
// and addressed: a message reaches only the subscriber whose selfID matches
// the To field. Used for single-process runs and tests.
type SignalingChannel struct {
	mu   sync.RWMutex
	subs map[domain.MeetingID]map[int]subscriber
	next int
}

func NewSignalingChannel() *SignalingChannel {
	return &SignalingChannel{subs: make(map[domain.MeetingID]map[int]subscriber)}
}

func (c *SignalingChannel) Publish(ctx context.Context, meetingID domain.MeetingID, msg domain.SignalMessage) error {
	c.mu.RLock()
	var fns []func(domain.SignalMessage)
	for _, sub := range c.subs[meetingID] {
		if sub.selfID == msg.To {
			fns = append(fns, sub.fn)
		}
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

func (c *SignalingChannel) Subscribe(ctx context.Context, meetingID domain.MeetingID, selfID domain.ParticipantID, onMessage func(domain.SignalMessage)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[meetingID] == nil {
		c.subs[meetingID] = make(map[int]subscriber)
	}
	id := c.next
	c.next++
	c.subs[meetingID][id] = subscriber{selfID: selfID, fn: onMessage}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[meetingID], id)
	}, nil
}
