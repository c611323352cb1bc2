package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"daypack.app/internal/ids"
)

// UserStore describes the persistence the auth subsystem needs.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// MemoryStore is an in-process UserStore used by the reference backend and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byLogin map[string]*User
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byLogin: make(map[string]*User),
	}
}

func (s *MemoryStore) Create(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.Username) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, ok := s.byLogin[key]; ok {
		return ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Status == "" {
		u.Status = "active"
	}
	copied := *u
	s.byID[u.ID] = &copied
	s.byLogin[key] = &copied
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byLogin[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}
