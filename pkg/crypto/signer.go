// Package crypto provides the Ed25519 signer/verifier pair every Grace
// component signs its outputs with, plus RFC 8785 canonicalization and
// content hashing. Grounded on the teacher's crypto.Ed25519Signer.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer produces signatures over raw bytes.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
}

// Verifier checks signatures against a known public key.
type Verifier interface {
	Verify(pubKeyHex, sigHex string, data []byte) (bool, error)
}

// Ed25519Signer is the default Signer/Verifier implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

// NewEd25519Signer generates a fresh keypair for keyID.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key, e.g. one
// unsealed from the secrets provider at startup.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{privKey: priv, pubKey: priv.Public().(ed25519.PublicKey), KeyID: keyID}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// Verify checks a hex signature against a hex public key over data. It
// is a package-level function (not bound to a specific keypair) so any
// component can verify a signature produced by any other identity.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// DefaultVerifier implements Verifier using the package-level Verify.
type DefaultVerifier struct{}

func (DefaultVerifier) Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	return Verify(pubKeyHex, sigHex, data)
}
