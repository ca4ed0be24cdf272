package identity

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore is a process-local Store used when no database is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

func (s *InMemoryStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	acc, err := prepare(op, in)
	if err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[acc.EmailNorm]; ok {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[acc.ID] = acc
	s.byEmail[acc.EmailNorm] = acc.ID
	return acc, nil
}

func (s *InMemoryStore) AccountByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.AccountByEmail"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) AccountByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.AccountByID"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return acc, nil
}
