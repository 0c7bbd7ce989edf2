// Package memory keeps snapshots in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/venturescope/scraperd/internal/archive"
)

// Store holds snapshot content keyed by object path.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory snapshot store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Save stores the snapshot content and returns a memory:// URI.
func (s *Store) Save(_ context.Context, snap archive.Snapshot) (string, error) {
	key := archive.ObjectKey(snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), snap.Content...)
	return fmt.Sprintf("memory://%s", key), nil
}

// Get returns the stored content for an object key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	return b, ok
}

// Len reports how many snapshots are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
