package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"meetmesh/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ParticipantStore keeps the meeting roster in Redis so that participants on
// different nodes see the same directory. Rows are soft-deleted: leaving
// flips IsPresent, the row itself stays.
type ParticipantStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
	prefix string
}

func NewParticipantStore(client *redis.Client, logger *zap.SugaredLogger) *ParticipantStore {
	return &ParticipantStore{
		client: client,
		logger: logger,
		prefix: "meetmesh:",
	}
}

func (s *ParticipantStore) rowKey(meetingID domain.MeetingID, id domain.ParticipantID) string {
	return fmt.Sprintf("%smeeting:%s:participant:%s", s.prefix, meetingID, id)
}

func (s *ParticipantStore) rosterKey(meetingID domain.MeetingID) string {
	return fmt.Sprintf("%smeeting:%s:roster", s.prefix, meetingID)
}

func (s *ParticipantStore) insertsChannel(meetingID domain.MeetingID) string {
	return fmt.Sprintf("%smeeting:%s:inserts", s.prefix, meetingID)
}

func (s *ParticipantStore) presenceKey(meetingID domain.MeetingID, id domain.ParticipantID) string {
	return fmt.Sprintf("%smeeting:%s:present:%s", s.prefix, meetingID, id)
}

func (s *ParticipantStore) Insert(ctx context.Context, meetingID domain.MeetingID, p *domain.Participant) error {
	// Claim presence atomically so two nodes announcing the same id cannot
	// both succeed; the loser gets the conflict sentinel.
	claimed, err := s.client.SetNX(ctx, s.presenceKey(meetingID, p.ID), "1", 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim presence in Redis: %w", err)
	}
	if !claimed {
		return domain.ErrAlreadyJoined
	}

	row := *p
	row.IsPresent = true

	data, err := json.Marshal(&row)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	if err := s.client.Set(ctx, s.rowKey(meetingID, p.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set participant in Redis: %w", err)
	}
	if err := s.client.SAdd(ctx, s.rosterKey(meetingID), string(p.ID)).Err(); err != nil {
		return fmt.Errorf("failed to add participant to roster set: %w", err)
	}

	// Fan the insert out to subscribers on other nodes.
	if err := s.client.Publish(ctx, s.insertsChannel(meetingID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish roster insert: %w", err)
	}
	return nil
}

func (s *ParticipantStore) Query(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	ids, err := s.client.SMembers(ctx, s.rosterKey(meetingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get roster from Redis: %w", err)
	}

	var out []*domain.Participant
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.rowKey(meetingID, domain.ParticipantID(id))).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get participant from Redis: %w", err)
		}

		var p domain.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			s.logger.Warnw("skipping unreadable roster row", "participant_id", id, "error", err)
			continue
		}
		if !p.IsPresent {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// SubscribeInserts delivers every roster insert published for the meeting.
// The returned function stops the subscription.
func (s *ParticipantStore) SubscribeInserts(ctx context.Context, meetingID domain.MeetingID, onInsert func(*domain.Participant)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.insertsChannel(meetingID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to roster inserts: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var p domain.Participant
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				s.logger.Warnw("failed to unmarshal roster insert",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			onInsert(&p)
		}
	}()

	return func() { pubsub.Close() }, nil
}

func (s *ParticipantStore) MarkLeft(ctx context.Context, meetingID domain.MeetingID, id domain.ParticipantID) error {
	if err := s.client.Del(ctx, s.presenceKey(meetingID, id)).Err(); err != nil {
		return fmt.Errorf("failed to release presence in Redis: %w", err)
	}

	key := s.rowKey(meetingID, id)
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get participant from Redis: %w", err)
	}

	var p domain.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	p.IsPresent = false

	updated, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}
	if err := s.client.Set(ctx, key, updated, 0).Err(); err != nil {
		return fmt.Errorf("failed to update participant in Redis: %w", err)
	}
	return nil
}
