package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"audita/internal/snapshot"
	"audita/pkg/platform/sentinel"
)

// InMemoryStore keeps encoded snapshots in memory. Snapshots are stored in
// their serialized form so callers never share subject pointers with it.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	infos     map[string]snapshot.Info
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		snapshots: make(map[string][]byte),
		infos:     make(map[string]snapshot.Info),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[string][]byte)
	s.infos = make(map[string]snapshot.Info)
}

func (s *InMemoryStore) Save(_ context.Context, snap *snapshot.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.RunID] = data
	s.infos[snap.RunID] = snapshot.Info{RunID: snap.RunID, CreatedAt: snap.CreatedAt}
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, runID string) (*snapshot.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snapshots[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", runID, sentinel.ErrNotFound)
	}
	return snapshot.Unmarshal(data)
}

// List returns stored runs, most recent first.
func (s *InMemoryStore) List(_ context.Context) ([]snapshot.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]snapshot.Info, 0, len(s.infos))
	for _, info := range s.infos {
		infos = append(infos, info)
	}
	sortInfos(infos)
	return infos, nil
}

func sortInfos(infos []snapshot.Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].RunID < infos[j].RunID
	})
}
