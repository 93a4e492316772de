package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"meetmesh/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SignalingChannel exchanges SDP and ICE payloads over Redis pub/sub. Each
// recipient listens on its own channel, so delivery is addressed without any
// client-side filtering. Best-effort: there is no queueing for subscribers
// that are not yet listening.
type SignalingChannel struct {
	client *redis.Client
	logger *zap.SugaredLogger
	prefix string
}

func NewSignalingChannel(client *redis.Client, logger *zap.SugaredLogger) *SignalingChannel {
	return &SignalingChannel{client: client, logger: logger, prefix: "meetmesh:"}
}

func (c *SignalingChannel) channel(meetingID domain.MeetingID, recipient domain.ParticipantID) string {
	return fmt.Sprintf("%smeeting:%s:signal:%s", c.prefix, meetingID, recipient)
}

func (c *SignalingChannel) Publish(ctx context.Context, meetingID domain.MeetingID, msg domain.SignalMessage) error {
	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signaling message: %w", err)
	}

	if err := c.client.Publish(ctx, c.channel(meetingID, msg.To), data).Err(); err != nil {
		return fmt.Errorf("failed to publish signaling message: %w", err)
	}

	c.logger.Debugw("published signaling message",
		"type", msg.Type,
		"from", msg.From,
		"to", msg.To,
	)
	return nil
}

func (c *SignalingChannel) Subscribe(ctx context.Context, meetingID domain.MeetingID, selfID domain.ParticipantID, onMessage func(domain.SignalMessage)) (func(), error) {
	pubsub := c.client.Subscribe(ctx, c.channel(meetingID, selfID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to signaling channel: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var sm domain.SignalMessage
			if err := json.Unmarshal([]byte(msg.Payload), &sm); err != nil {
				c.logger.Warnw("failed to unmarshal signaling message",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			// A participant never signals itself.
			if sm.From == selfID {
				continue
			}
			onMessage(sm)
		}
	}()

	return func() { pubsub.Close() }, nil
}
