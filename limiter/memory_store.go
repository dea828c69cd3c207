package limiter

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// memoryStore implements Store with an in-process map. State is not shared
// between processes.
type memoryStore struct {
	mu    sync.RWMutex
	state map[string]int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		state: make(map[string]int64),
	}
}

// Get implements the Store interface for memory storage.
func (s *memoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.state[key]
	return value, ok, nil
}

// Set implements the Store interface for memory storage.
func (s *memoryStore) Set(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[key] = value
	log.Trace().Str("key", key).Int64("value", value).Msg("memory store set")
	return nil
}
