// Package invite issues and redeems enrollment codes that let a new operator
// create an account bound to a fixed role and organization.
package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"mes/cmd/identity"
	"mes/cmd/identity/ids"
	"mes/cmd/security/token"
)

const (
	defaultCodeBytes = 24
	defaultTTL       = 7 * 24 * time.Hour
	maxNoteLen       = 512
)

// Invite represents an invite row. The plain code is never stored.
type Invite struct {
	ID             string
	Role           string
	OrganizationID string
	CreatedBy      *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	MaxUses        int
	UsedCount      int
	RevokedAt      *time.Time
	Note           *string
	ConsumedAt     *time.Time
	ConsumedBy     *string
}

// Active reports whether the invite can still be redeemed at now.
func (inv Invite) Active(now time.Time) bool {
	if inv.RevokedAt != nil {
		return false
	}
	if !inv.ExpiresAt.After(now) {
		return false
	}
	return inv.UsedCount < inv.MaxUses
}

// CreateInput describes invite creation.
type CreateInput struct {
	Role           string
	OrganizationID string
	CreatedBy      *string
	TTL            time.Duration
	MaxUses        int
	Note           *string
	Now            time.Time
}

// ConsumeInput describes a redemption. ConsumedBy names the claimer.
type ConsumeInput struct {
	Code       string
	ConsumedBy string
	Now        time.Time
}

// Service manages invite creation, validation and consumption.
type Service struct {
	store     Store
	hasher    token.Hasher
	codeBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithCodeBytes sets the entropy of generated codes in bytes.
func WithCodeBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.codeBytes = n
		return nil
	}
}

// WithHasher sets the code hasher (default: unkeyed SHA-256).
func WithHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, hasher: token.NewHasher(nil), codeBytes: defaultCodeBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite stores a new invite and returns it with its plain code.
// The code is only ever available here.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if s == nil || s.store == nil {
		return Invite{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}

	role := identity.NormalizeRole(in.Role)
	if role == "" {
		return Invite{}, "", ErrInvalidInput
	}
	note := trimPtr(in.Note)
	if note != nil && len(*note) > maxNoteLen {
		return Invite{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}

	code, err := token.NewCode(s.codeBytes)
	if err != nil {
		return Invite{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		ID:             id,
		TokenHash:      s.hasher.Hash(code),
		Role:           role,
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		CreatedBy:      trimPtr(in.CreatedBy),
		CreatedAt:      now.UTC(),
		ExpiresAt:      now.Add(ttl).UTC(),
		MaxUses:        maxUses,
		Note:           note,
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, code, nil
}

// ValidateInvite reports whether code names an invite that is active at now.
// An unknown code is (false, Invite{}, nil).
func (s *Service) ValidateInvite(ctx context.Context, code string, now time.Time) (bool, Invite, error) {
	if s == nil || s.store == nil {
		return false, Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, Invite{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	inv, err := s.store.GetByTokenHash(ctx, s.hasher.Hash(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Invite{}, nil
		}
		return false, Invite{}, err
	}
	return inv.Active(now), inv, nil
}

// ConsumeInvite spends one use of the invite named by code.
func (s *Service) ConsumeInvite(ctx context.Context, in ConsumeInput) (Invite, error) {
	if s == nil || s.store == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	code := strings.TrimSpace(in.Code)
	by := strings.TrimSpace(in.ConsumedBy)
	if code == "" || by == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	return s.store.Consume(ctx, ConsumeRecord{
		TokenHash:  s.hasher.Hash(code),
		ConsumedBy: by,
		Now:        in.Now.UTC(),
	})
}

// InviteByID returns the invite with the given id.
func (s *Service) InviteByID(ctx context.Context, id string) (Invite, error) {
	if s == nil || s.store == nil {
		return Invite{}, ErrInvalidInput
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Invite{}, ErrInvalidInput
	}
	return s.store.GetByID(ctx, id)
}

// RevokeInvite disables the invite. Revoking twice keeps the first timestamp.
func (s *Service) RevokeInvite(ctx context.Context, id string, now time.Time) (Invite, error) {
	if s == nil || s.store == nil {
		return Invite{}, ErrInvalidInput
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.Revoke(ctx, id, now.UTC())
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
