package contracts

import "time"

// EntityType is the closed set of entities a CryptoIdentity may represent.
type EntityType string

const (
	EntityComponent EntityType = "component"
	EntityMessage   EntityType = "message"
	EntityFile      EntityType = "file"
	EntityUser      EntityType = "user"
	EntityAgent     EntityType = "agent"
	EntityDecision  EntityType = "decision"
)

// CryptoIdentity binds a signing key to an entity. Each component acquires
// exactly one identity at start; every signed output it produces
// references this CryptoID.
type CryptoIdentity struct {
	CryptoID      string     `json:"crypto_id"`
	EntityID      string     `json:"entity_id"`
	EntityType    EntityType `json:"entity_type"`
	KeyID         string     `json:"key_id"`
	SignatureAlg  string     `json:"signature_alg"`
	PublicKey     string     `json:"public_key"`
	CreatedAt     time.Time  `json:"created_at"`
}
