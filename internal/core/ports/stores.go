package ports

import (
	"context"

	"meetmesh/internal/core/domain"
)

// ParticipantStore is the external roster directory. Rows are soft-deleted:
// a participant that leaves is marked absent, never removed.
type ParticipantStore interface {
	Insert(ctx context.Context, meetingID domain.MeetingID, p *domain.Participant) error
	Query(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error)
	SubscribeInserts(ctx context.Context, meetingID domain.MeetingID, onInsert func(*domain.Participant)) (func(), error)
	MarkLeft(ctx context.Context, meetingID domain.MeetingID, id domain.ParticipantID) error
}

// SignalingChannel is the external pub/sub used to exchange SDP and ICE
// payloads. Delivery is best-effort and unordered; Subscribe delivers only
// messages addressed to selfID.
type SignalingChannel interface {
	Publish(ctx context.Context, meetingID domain.MeetingID, msg domain.SignalMessage) error
	Subscribe(ctx context.Context, meetingID domain.MeetingID, selfID domain.ParticipantID, onMessage func(domain.SignalMessage)) (func(), error)
}

// IdentityProvider resolves the local participant's opaque identity.
type IdentityProvider interface {
	Current(ctx context.Context) (domain.Identity, error)
}
