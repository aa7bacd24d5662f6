package audit

import (
	"context"
	"sync"

	"leadgate/pkg/platform/audit"
)

// InMemoryStore keeps the newest capacity events.
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []audit.Event
	capacity int
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InMemoryStore{capacity: capacity}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.capacity {
		s.events = append([]audit.Event(nil), s.events[len(s.events)-s.capacity:]...)
	}
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	return append([]audit.Event{}, s.events[start:]...), nil
}
