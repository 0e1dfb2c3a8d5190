package blocker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// memoryStore implements the Store interface using an in-memory map.
type memoryStore struct {
	mu     sync.RWMutex
	states map[string]bool
}

// NewMemoryStore creates a new in-memory extension state store.
func NewMemoryStore() Store {
	return &memoryStore{
		states: make(map[string]bool),
	}
}

func (s *memoryStore) SetEnabled(ctx context.Context, bundleID string, enabled bool) error {
	if bundleID == "" {
		return ErrEmptyBundleID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[bundleID] = enabled
	log.Debug().Str("bundle_id", bundleID).Bool("enabled", enabled).Msg("extension state recorded")
	return nil
}

func (s *memoryStore) Enabled(ctx context.Context, bundleID string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, known := s.states[bundleID]
	return enabled, known, nil
}

func (s *memoryStore) All(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.states))
	for id, enabled := range s.states {
		out[id] = enabled
	}
	return out, nil
}
