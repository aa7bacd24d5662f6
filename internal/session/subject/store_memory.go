package subject

import (
	"context"
	"fmt"
	"sync"

	"leadgate/internal/session/models"
	"leadgate/pkg/platform/sentinel"
)

// Error Contract:
// - FindByName returns sentinel.ErrNotFound when no subject has that name
// - Create returns sentinel.ErrAlreadyUsed when the name is taken

// InMemoryStore keeps subjects in memory for tests and development.
type InMemoryStore struct {
	mu     sync.RWMutex
	byName map[string]*models.Subject
}

// NewInMemory constructs an empty in-memory subject store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{byName: make(map[string]*models.Subject)}
}

func (s *InMemoryStore) Create(_ context.Context, subject *models.Subject) error {
	if subject == nil {
		return fmt.Errorf("subject is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[subject.Name]; ok {
		return fmt.Errorf("subject already exists: %w", sentinel.ErrAlreadyUsed)
	}
	stored := *subject
	s.byName[subject.Name] = &stored
	return nil
}

func (s *InMemoryStore) FindByName(_ context.Context, name string) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.byName[name]; ok {
		found := *subject
		return &found, nil
	}
	return nil, fmt.Errorf("subject not found: %w", sentinel.ErrNotFound)
}
