package tasks

import (
	"context"
	"strings"
	"sync"
	"time"

	"daypack.app/internal/ids"
)

// Service defines the task operations the backend exposes.
type Service interface {
	Create(ctx context.Context, userID, title, notes, idemKey string) (Task, error)
	Complete(ctx context.Context, userID, taskID string) (Task, error)
	List(ctx context.Context, userID string) ([]Task, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	byUser map[string][]*Task
	idem   map[string]*Task // userID+"\x00"+idemKey -> created task
}

// NewInMemory creates an empty task store.
func NewInMemory() *InMemory {
	return &InMemory{
		byUser: make(map[string][]*Task),
		idem:   make(map[string]*Task),
	}
}

func (s *InMemory) Create(ctx context.Context, userID, title, notes, idemKey string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, ErrInvalidTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		// Replay reflects the live task, not the creation-time snapshot, so
		// a retried create after Complete reports the task as done.
		if t, ok := s.idem[userID+"\x00"+idemKey]; ok {
			return *t, nil
		}
	}
	t := &Task{
		ID:             ids.New(),
		UserID:         userID,
		Title:          title,
		Notes:          notes,
		CreatedAt:      time.Now().UTC(),
		IdempotencyKey: idemKey,
	}
	s.byUser[userID] = append(s.byUser[userID], t)
	if idemKey != "" {
		s.idem[userID+"\x00"+idemKey] = t
	}
	return *t, nil
}

func (s *InMemory) Complete(ctx context.Context, userID, taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byUser[userID] {
		if t.ID == taskID {
			if !t.Done {
				now := time.Now().UTC()
				t.Done = true
				t.CompletedAt = &now
			}
			return *t, nil
		}
	}
	return Task{}, ErrNotFound
}

func (s *InMemory) List(ctx context.Context, userID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byUser[userID]
	out := make([]Task, 0, len(list))
	for _, t := range list {
		out = append(out, *t)
	}
	return out, nil
}
