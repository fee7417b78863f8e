// Package memory implements an in-memory document Store for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
)

// Store implements pipeline.Store backed by process memory.
type Store struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store { return &Store{objs: make(map[string][]byte)} }

// Put stores a copy of body under key, replacing any previous document.
func (s *Store) Put(_ context.Context, key string, body []byte) error {
	b := make([]byte, len(body))
	copy(b, body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[key] = b
	return nil
}

// Get returns a copy of the document at key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objs[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// Keys returns all stored keys in lexical order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objs))
	for k := range s.objs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}
