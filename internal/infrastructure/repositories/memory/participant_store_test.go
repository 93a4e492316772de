package memory

import (
	"context"
	"testing"
	"time"

	"meetmesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participant(id domain.ParticipantID) *domain.Participant {
	return &domain.Participant{ID: id, DisplayName: string(id), JoinedAt: time.Now()}
}

func TestInsertAndQuery(t *testing.T) {
	s := NewParticipantStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "m1", participant("a")))
	require.NoError(t, s.Insert(ctx, "m1", participant("b")))
	require.NoError(t, s.Insert(ctx, "m2", participant("c")))

	rows, err := s.Query(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.Query(ctx, "m2")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInsertDuplicateIsConflict(t *testing.T) {
	s := NewParticipantStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "m1", participant("a")))
	assert.ErrorIs(t, s.Insert(ctx, "m1", participant("a")), domain.ErrAlreadyJoined)
}

func TestMarkLeftSoftDeletes(t *testing.T) {
	s := NewParticipantStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "m1", participant("a")))
	require.NoError(t, s.MarkLeft(ctx, "m1", "a"))

	rows, err := s.Query(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Marking an unknown participant is a no-op.
	require.NoError(t, s.MarkLeft(ctx, "m1", "ghost"))

	// A participant that left may rejoin.
	require.NoError(t, s.Insert(ctx, "m1", participant("a")))
	rows, err = s.Query(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSubscribeInserts(t *testing.T) {
	s := NewParticipantStore()
	ctx := context.Background()

	var got []domain.ParticipantID
	unsub, err := s.SubscribeInserts(ctx, "m1", func(p *domain.Participant) {
		got = append(got, p.ID)
	})
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, "m1", participant("a")))
	require.NoError(t, s.Insert(ctx, "m2", participant("other-meeting")))
	assert.Equal(t, []domain.ParticipantID{"a"}, got)

	unsub()
	require.NoError(t, s.Insert(ctx, "m1", participant("b")))
	assert.Equal(t, []domain.ParticipantID{"a"}, got)
}

func TestQueryReturnsCopies(t *testing.T) {
	s := NewParticipantStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "m1", participant("a")))

	rows, err := s.Query(ctx, "m1")
	require.NoError(t, err)
	rows[0].DisplayName = "mutated"

	again, err := s.Query(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].DisplayName)
}
