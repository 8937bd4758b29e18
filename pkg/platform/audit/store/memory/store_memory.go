package memory

import (
	"context"
	"sync"

	audit "audita/pkg/platform/audit"
)

// InMemoryStore keeps the audit trail for the life of the process. It backs
// the file and memory snapshot backends.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	byRun  map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byRun: make(map[string][]int)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRun[event.RunID] = append(s.byRun[event.RunID], len(s.events))
	s.events = append(s.events, event)
	return nil
}

// ListByRun returns the events of one run in append order.
func (s *InMemoryStore) ListByRun(_ context.Context, runID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Event, 0, len(s.byRun[runID]))
	for _, i := range s.byRun[runID] {
		out = append(out, s.events[i])
	}
	return out, nil
}

// ListRecent returns the last limit events, most recent first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.events) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}
	out := make([]audit.Event, 0, len(s.events)-start)
	for i := len(s.events) - 1; i >= start; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}
