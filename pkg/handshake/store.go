package handshake

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// InMemoryStore is the reference Store: a process-local map guarded by
// a mutex, the same shape as the other packages' in-memory reference
// stores (e.g. memory.InMemoryQuota). A deployment that needs
// onboarding state to survive a restart backs Store with its own
// persistence instead.
type InMemoryStore struct {
	mu         sync.RWMutex
	onboarding map[string]contracts.ComponentOnboarding
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{onboarding: make(map[string]contracts.ComponentOnboarding)}
}

func (s *InMemoryStore) Put(ctx context.Context, onboarding contracts.ComponentOnboarding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onboarding[onboarding.ComponentID] = onboarding
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, componentID string) (contracts.ComponentOnboarding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.onboarding[componentID]
	return o, ok, nil
}
