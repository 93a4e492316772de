package identity

import (
	"context"

	"meetmesh/internal/core/domain"
	"meetmesh/pkg/utils"
)

// StaticProvider resolves a fixed identity. The production deployment plugs
// an external identity layer in behind the same port.
type StaticProvider struct {
	identity domain.Identity
}

func NewStaticProvider(id domain.ParticipantID, displayName string) *StaticProvider {
	return &StaticProvider{identity: domain.Identity{ID: id, DisplayName: displayName}}
}

// NewGenerated mints a fresh participant id for the display name.
func NewGenerated(displayName string) *StaticProvider {
	return &StaticProvider{identity: domain.Identity{
		ID:          domain.ParticipantID(utils.GenerateParticipantID()),
		DisplayName: displayName,
	}}
}

// AsModerator marks the identity as a meeting moderator.
func (p *StaticProvider) AsModerator() *StaticProvider {
	p.identity.IsModerator = true
	return p
}

func (p *StaticProvider) Current(ctx context.Context) (domain.Identity, error) {
	return p.identity, nil
}
