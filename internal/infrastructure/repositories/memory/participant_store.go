package memory

import (
	"context"
	"sync"

	"meetmesh/internal/core/domain"
)

// ParticipantStore keeps the roster in process memory. Used for single-node
// runs and tests; the redis store replaces it in multi-node deployments.
type ParticipantStore struct {
	mu       sync.RWMutex
	meetings map[domain.MeetingID]map[domain.ParticipantID]*domain.Participant
	watchers map[domain.MeetingID]map[int]func(*domain.Participant)
	nextSub  int
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		meetings: make(map[domain.MeetingID]map[domain.ParticipantID]*domain.Participant),
		watchers: make(map[domain.MeetingID]map[int]func(*domain.Participant)),
	}
}

func (s *ParticipantStore) Insert(ctx context.Context, meetingID domain.MeetingID, p *domain.Participant) error {
	s.mu.Lock()
	rows, ok := s.meetings[meetingID]
	if !ok {
		rows = make(map[domain.ParticipantID]*domain.Participant)
		s.meetings[meetingID] = rows
	}
	if existing, ok := rows[p.ID]; ok && existing.IsPresent {
		s.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	cp := *p
	cp.IsPresent = true
	rows[p.ID] = &cp

	var fns []func(*domain.Participant)
	for _, fn := range s.watchers[meetingID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		row := cp
		fn(&row)
	}
	return nil
}

// Query returns present participants only; rows marked left stay in the map
// but are filtered out here.
func (s *ParticipantStore) Query(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Participant
	for _, p := range s.meetings[meetingID] {
		if !p.IsPresent {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *ParticipantStore) SubscribeInserts(ctx context.Context, meetingID domain.MeetingID, onInsert func(*domain.Participant)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchers[meetingID] == nil {
		s.watchers[meetingID] = make(map[int]func(*domain.Participant))
	}
	id := s.nextSub
	s.nextSub++
	s.watchers[meetingID][id] = onInsert

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[meetingID], id)
	}, nil
}

// MarkLeft soft-deletes the row. Unknown participants are a no-op so that
// teardown stays idempotent.
func (s *ParticipantStore) MarkLeft(ctx context.Context, meetingID domain.MeetingID, id domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.meetings[meetingID][id]; ok {
		p.IsPresent = false
	}
	return nil
}
