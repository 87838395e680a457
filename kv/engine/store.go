package engine

import (
	"sync"

	"github.com/shardkv-io/shardkv/kv/command"
)

// Store is the minimal in-memory value holder backing one shard's
// partition. It exists only so the coordinator has a concrete, testable
// collaborator to schedule callbacks against: no expiration, no
// column-family separation, no on-disk persistence.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]string)}
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Del removes key, reporting whether it was present.
func (s *Store) Del(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// FindFirst scans args in order and returns the value, index and OK
// status of the first present key, or KeyNotFound if none are. It backs
// the findfirst package's Processor, which picks among per-shard
// FindFirst results by original argument position.
func (s *Store) FindFirst(args []string) (value string, idx int, status command.Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, k := range args {
		if v, ok := s.data[k]; ok {
			return v, i, command.OK
		}
	}
	return "", -1, command.KeyNotFound
}
