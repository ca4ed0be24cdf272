package invite

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore keeps invites in process memory.
type InMemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Invite
	byHash map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]Invite),
		byHash: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if err := checkCreate(in); err != nil {
		return Invite{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[in.ID]; ok {
		return Invite{}, ErrInvalidInput
	}
	if _, ok := s.byHash[in.TokenHash]; ok {
		return Invite{}, ErrInvalidInput
	}
	inv := in.invite()
	s.byID[in.ID] = inv
	s.byHash[in.TokenHash] = in.ID
	return inv, nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return inv, nil
}

func (s *InMemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[in.TokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	inv := s.byID[id]
	if !inv.Active(in.Now) {
		return Invite{}, ErrNotActive
	}
	at := in.Now
	by := in.ConsumedBy
	inv.UsedCount++
	inv.ConsumedAt = &at
	inv.ConsumedBy = &by
	s.byID[id] = inv
	return inv, nil
}

func (s *InMemoryStore) Revoke(ctx context.Context, id string, now time.Time) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Invite{}, ErrNotFound
	}
	if inv.RevokedAt == nil {
		at := now
		inv.RevokedAt = &at
		s.byID[inv.ID] = inv
	}
	return inv, nil
}

func checkCreate(in CreateRecord) error {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || in.Role == "" {
		return ErrInvalidInput
	}
	if in.MaxUses <= 0 || !in.ExpiresAt.After(in.CreatedAt) {
		return ErrInvalidInput
	}
	if in.Note != nil && len(*in.Note) > maxNoteLen {
		return ErrInvalidInput
	}
	return nil
}
