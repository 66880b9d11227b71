package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory implements Store with in-process concurrency safety.
// Used by tests and when no database is configured.
type InMemory struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]Account
	byUsername map[string]uuid.UUID
	tokens     map[string]AuthToken
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:      make(map[uuid.UUID]Account),
		byUsername: make(map[string]uuid.UUID),
		tokens:     make(map[string]AuthToken),
	}
}

func (s *InMemory) FindUserByUsername(ctx context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *InMemory) FindUserByID(ctx context.Context, id uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.users[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *InMemory) InsertUser(ctx context.Context, acc Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[acc.Username]; taken {
		return Account{}, ErrConflict
	}
	if _, taken := s.users[acc.ID]; taken {
		return Account{}, ErrConflict
	}
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	if acc.UpdatedAt.IsZero() {
		acc.UpdatedAt = now
	}
	s.users[acc.ID] = acc
	s.byUsername[acc.Username] = acc.ID
	return acc, nil
}

func (s *InMemory) UpdateUsername(ctx context.Context, id uuid.UUID, username string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.users[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if owner, taken := s.byUsername[username]; taken && owner != id {
		return Account{}, ErrConflict
	}
	delete(s.byUsername, acc.Username)
	acc.Username = username
	acc.UpdatedAt = time.Now().UTC()
	s.users[id] = acc
	s.byUsername[username] = id
	return acc, nil
}

func (s *InMemory) DeleteUser(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	for _, tok := range s.tokens {
		if tok.UserID == id {
			// mirrors the foreign key on auth_tokens.user_id
			return fmt.Errorf("delete user %s: %w", id, ErrTokensRemain)
		}
	}
	delete(s.users, id)
	delete(s.byUsername, acc.Username)
	return nil
}

func (s *InMemory) InsertToken(ctx context.Context, tok AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[tok.UserID]; !ok {
		return ErrNotFound
	}
	if _, dup := s.tokens[tok.Token]; dup {
		return ErrConflict
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	s.tokens[tok.Token] = tok
	return nil
}

func (s *InMemory) FindTokenOwner(ctx context.Context, token string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[token]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return tok.UserID, nil
}

func (s *InMemory) DeleteToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *InMemory) DeleteTokens(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, tok := range s.tokens {
		if tok.UserID == userID {
			delete(s.tokens, k)
		}
	}
	return nil
}

func (s *InMemory) Ping(ctx context.Context) error { return ctx.Err() }
