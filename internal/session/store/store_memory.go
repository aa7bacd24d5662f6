package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadgate/internal/session/models"
	"leadgate/pkg/platform/sentinel"
)

// Error Contract:
// - Get returns sentinel.ErrNotFound when the session does not exist or has expired
// - Delete of a missing session is not an error
// - Infrastructure failures are returned wrapped with context

type memoryEntry struct {
	state     *models.State
	expiresAt time.Time
}

// InMemoryStore keeps sessions in process memory for tests and single-node
// development. Stored states are copies; callers never share a pointer with
// the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewInMemory constructs an empty store whose entries expire ttl after their
// last save.
func NewInMemory(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return entry.state.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, state *models.State) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("session id is required: %w", sentinel.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ID] = s.entry(state)
	return nil
}

// Rotate removes oldID and stores state under its new ID in one step.
func (s *InMemoryStore) Rotate(_ context.Context, oldID string, state *models.State) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("session id is required: %w", sentinel.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, oldID)
	s.sessions[state.ID] = s.entry(state)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteExpired drops every session whose TTL has lapsed at now.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) entry(state *models.State) memoryEntry {
	return memoryEntry{state: state.Clone(), expiresAt: s.now().Add(s.ttl)}
}
