package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher produces deterministic content hashes for Grace artifacts.
type Hasher interface {
	Hash(v any) (string, error)
}

// CanonicalHasher hashes the JCS canonical encoding of v.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher { return &CanonicalHasher{} }

func (h *CanonicalHasher) Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("canonical serialization failed: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes hashes raw bytes directly (used for the log's hash chain,
// where the payload is already canonical).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
