package memory

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// InMemoryStore is the test/dev Store backend.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]contracts.MemoryEntry
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]contracts.MemoryEntry)}
}

func (s *InMemoryStore) Put(_ context.Context, entry contracts.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.EntryID] = entry
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, domain string, memoryType contracts.MemoryType) ([]contracts.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.MemoryEntry
	for _, e := range s.entries {
		if e.Domain == domain && e.MemoryType == memoryType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) QueryAllDomains(_ context.Context, memoryType contracts.MemoryType, excludeDomain string) ([]contracts.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.MemoryEntry
	for _, e := range s.entries {
		if e.Domain == excludeDomain || e.MemoryType != memoryType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) BumpAccessCount(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil
	}
	e.AccessCount++
	s.entries[entryID] = e
	return nil
}
