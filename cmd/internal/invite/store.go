package invite

import (
	"context"
	"time"
)

// CreateRecord is a normalized invite insert payload.
type CreateRecord struct {
	ID             string
	TokenHash      string
	Role           string
	OrganizationID string
	CreatedBy      *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	MaxUses        int
	Note           *string
}

// ConsumeRecord describes one redemption of a code.
type ConsumeRecord struct {
	TokenHash  string
	ConsumedBy string
	Now        time.Time
}

// Store is the persistence boundary for invites.
//
// Consume must be atomic: two concurrent redemptions of a single-use invite
// leave exactly one winner and the loser gets ErrNotActive.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByID(ctx context.Context, id string) (Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)
	Consume(ctx context.Context, in ConsumeRecord) (Invite, error)
	Revoke(ctx context.Context, id string, now time.Time) (Invite, error)
}

func (in CreateRecord) invite() Invite {
	return Invite{
		ID:             in.ID,
		Role:           in.Role,
		OrganizationID: in.OrganizationID,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      in.CreatedAt,
		ExpiresAt:      in.ExpiresAt,
		MaxUses:        in.MaxUses,
		Note:           in.Note,
	}
}
