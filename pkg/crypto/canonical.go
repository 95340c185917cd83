package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize produces the RFC 8785 (JCS) canonical encoding of v: map
// keys sorted, no insignificant whitespace, numbers in their shortest
// round-tripping form. The Immutable Log uses this before hashing a
// payload so payload_hash is reproducible across writers.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode failed: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs canonicalization failed: %w", err)
	}
	return canon, nil
}

// Signature separators used across all Canonicalize* helpers below.
const (
	SigSeparator     = ":"
	SigPrefixEd25519 = "ed25519"
)

// CanonicalizeDecision produces the signable form of a governance decision.
func CanonicalizeDecision(id string, decision string, reason string) string {
	return fmt.Sprintf("%s%s%s%s%s", id, SigSeparator, decision, SigSeparator, reason)
}

// CanonicalizeVote produces the signable form of a parliament ballot.
func CanonicalizeVote(sessionID, memberID, vote, reason string) string {
	return fmt.Sprintf("%s%s%s%s%s%s%s", sessionID, SigSeparator, memberID, SigSeparator, vote, SigSeparator, reason)
}

// CanonicalizeOutcome produces the signable form of a plan's SignedOutcome.
func CanonicalizeOutcome(planID, playbookID, result string, durationMs int64) string {
	return fmt.Sprintf("%s%s%s%s%s%s%d", planID, SigSeparator, playbookID, SigSeparator, result, SigSeparator, durationMs)
}
