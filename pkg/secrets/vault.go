// Package secrets implements the reference Secrets provider collaborator
// contract of spec.md §6: `get(name) -> value`, `store(name, value,
// owner, ttl?)`, emitting `secret.revoked` on the mesh. Grace's core
// depends only on the Provider interface; a production deployment
// backs it with Vault/KMS/cloud secret managers. Grounded on the
// teacher's governance.Keyring (HKDF-derived per-scope keys from a
// single root secret) and kernel.SecretRef (secrets never appear in
// logged/exported artifacts, only references to them do).
package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// Provider is the collaborator contract every Grace component depends
// on for signing-key material and adapter credentials, never
// implementing storage itself.
type Provider interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Store(ctx context.Context, name string, value []byte, owner string, ttl time.Duration) error
}

// Publisher emits secret.revoked onto the Event Mesh when a TTL expires
// or a secret is explicitly revoked.
type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

type sealedSecret struct {
	nonce     [24]byte
	sealed    []byte
	owner     string
	expiresAt time.Time // zero means no expiry
}

// InMemoryVault is the reference Provider: a process-local store whose
// values are sealed at rest with a key derived (via HKDF-SHA256) from a
// root secret, the same key-derivation shape as the teacher's
// Keyring.DeriveForTenant, generalized here from per-tenant subkeys to
// per-secret-name subkeys.
type InMemoryVault struct {
	mu        sync.RWMutex
	root      []byte // 32-byte root key material, never stored sealed
	entries   map[string]sealedSecret
	publisher Publisher
	clock     func() time.Time
}

// NewInMemoryVault derives its sealing root from rootSecret (e.g. a
// passphrase or bootstrap credential supplied out-of-band at process
// start) via HKDF-SHA256.
func NewInMemoryVault(rootSecret []byte, publisher Publisher) (*InMemoryVault, error) {
	reader := hkdf.New(sha256.New, rootSecret, []byte("grace-secrets-vault"), []byte("root"))
	root := make([]byte, 32)
	if _, err := io.ReadFull(reader, root); err != nil {
		return nil, fmt.Errorf("secrets: derive root key: %w", err)
	}
	return &InMemoryVault{
		root:      root,
		entries:   make(map[string]sealedSecret),
		publisher: publisher,
		clock:     time.Now,
	}, nil
}

// WithClock overrides the clock used for TTL expiry checks in tests.
func (v *InMemoryVault) WithClock(clock func() time.Time) *InMemoryVault {
	v.clock = clock
	return v
}

// keyFor derives a per-name sealing key so compromise of one sealed
// value's nonce never helps an attacker against another.
func (v *InMemoryVault) keyFor(name string) ([32]byte, error) {
	var key [32]byte
	reader := hkdf.New(sha256.New, v.root, []byte("grace-secrets-vault"), []byte(name))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, fmt.Errorf("secrets: derive key for %q: %w", name, err)
	}
	return key, nil
}

// Store seals value under a name-scoped key and records owner/ttl.
func (v *InMemoryVault) Store(ctx context.Context, name string, value []byte, owner string, ttl time.Duration) error {
	key, err := v.keyFor(name)
	if err != nil {
		return err
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("secrets: generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, value, &nonce, &key)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = v.clock().Add(ttl)
	}

	v.mu.Lock()
	v.entries[name] = sealedSecret{nonce: nonce, sealed: sealed, owner: owner, expiresAt: expiresAt}
	v.mu.Unlock()
	return nil
}

// Get unseals and returns the named secret, or an error if absent,
// expired, or tampered with (secretbox's AEAD tag fails to verify).
func (v *InMemoryVault) Get(ctx context.Context, name string) ([]byte, error) {
	v.mu.RLock()
	entry, ok := v.entries[name]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("secrets: %q not found", name)
	}
	if !entry.expiresAt.IsZero() && v.clock().After(entry.expiresAt) {
		v.expire(ctx, name, entry.owner)
		return nil, fmt.Errorf("secrets: %q expired", name)
	}

	key, err := v.keyFor(name)
	if err != nil {
		return nil, err
	}
	value, ok := secretbox.Open(nil, entry.sealed, &entry.nonce, &key)
	if !ok {
		return nil, fmt.Errorf("secrets: %q failed integrity check", name)
	}
	return value, nil
}

// Revoke deletes a secret ahead of its TTL and emits secret.revoked.
func (v *InMemoryVault) Revoke(ctx context.Context, name string) {
	v.mu.RLock()
	owner := v.entries[name].owner
	v.mu.RUnlock()
	v.expire(ctx, name, owner)
}

func (v *InMemoryVault) expire(ctx context.Context, name, owner string) {
	v.mu.Lock()
	delete(v.entries, name)
	v.mu.Unlock()

	if v.publisher == nil {
		return
	}
	_ = v.publisher.Publish(ctx, contracts.Event{
		EventType: "secret.revoked",
		Source:    "secrets_vault",
		Actor:     owner,
		Resource:  name,
		Timestamp: v.clock(),
		Subsystem: "secrets",
	})
}
