// Package identity issues and tracks CryptoIdentity records (§3) and
// signs bearer tokens for human Parliament members and onboarding
// components. Grounded on the teacher's identity.TokenManager.
package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
)

// Registry issues exactly one CryptoIdentity per entity at startup and
// resolves identities by entity ID thereafter.
type Registry struct {
	mu        sync.RWMutex
	byEntity  map[string]*contracts.CryptoIdentity
	byCryptoID map[string]*contracts.CryptoIdentity
}

// NewRegistry creates an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{
		byEntity:   make(map[string]*contracts.CryptoIdentity),
		byCryptoID: make(map[string]*contracts.CryptoIdentity),
	}
}

// Acquire mints a new identity for entityID, failing if one already
// exists — each component acquires exactly one identity at start.
func (r *Registry) Acquire(entityID string, entityType contracts.EntityType, signer crypto.Signer, keyID string) (*contracts.CryptoIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEntity[entityID]; exists {
		return nil, fmt.Errorf("identity: entity %q already holds a crypto identity", entityID)
	}

	id := &contracts.CryptoIdentity{
		CryptoID:     uuid.New().String(),
		EntityID:     entityID,
		EntityType:   entityType,
		KeyID:        keyID,
		SignatureAlg: "ed25519",
		PublicKey:    signer.PublicKey(),
		CreatedAt:    time.Now().UTC(),
	}
	r.byEntity[entityID] = id
	r.byCryptoID[id.CryptoID] = id
	return id, nil
}

// Get resolves an identity by entity ID.
func (r *Registry) Get(entityID string) (*contracts.CryptoIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEntity[entityID]
	return id, ok
}

// GetByCryptoID resolves an identity by its CryptoID, used when
// verifying a signed artifact that only carries the CryptoID reference.
func (r *Registry) GetByCryptoID(cryptoID string) (*contracts.CryptoIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCryptoID[cryptoID]
	return id, ok
}
