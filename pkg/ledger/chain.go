package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// timestampLayout fixes the textual form of timestamp used in the
// signable digest so re-signing and re-verification never drift on
// time.Time's location or sub-second precision.
const timestampLayout = time.RFC3339Nano

// signableDigest builds the exact pre-hash string spec.md §3 names:
// H(seq‖timestamp‖actor‖action‖resource‖payload_hash‖prev_seq_hash).
// timestamp is formatted RFC3339Nano/UTC so the digest is stable
// regardless of the entry's original time.Time location or precision.
func signableDigest(seq uint64, timestamp, actor, action, resource, payloadHash, prevHash string) string {
	return fmt.Sprintf("%d:%s:%s:%s:%s:%s:%s", seq, timestamp, actor, action, resource, payloadHash, prevHash)
}

// chainLink computes payload hash, prev_seq_hash, and signature for the
// entry about to occupy seq, given the previous entry's chain hash
// (genesisHash for seq 0). It mutates and returns entry.
func chainLink(entry contracts.LogEntry, seq uint64, prevHash string, signer crypto.Signer) (contracts.LogEntry, string, error) {
	entry.Seq = seq
	entry.PrevSeqHash = prevHash

	canon, err := crypto.Canonicalize(json.RawMessage(entry.Payload))
	if err != nil {
		return entry, "", fmt.Errorf("ledger: canonicalize payload: %w", err)
	}
	entry.Payload = canon
	entry.PayloadHash = crypto.HashBytes(canon)

	chainHash := crypto.HashBytes([]byte(prevHash + entry.PayloadHash))

	signable := signableDigest(seq, entry.Timestamp.UTC().Format(timestampLayout), entry.Actor, entry.Action, entry.Resource, entry.PayloadHash, prevHash)
	sig, err := signer.Sign([]byte(signable))
	if err != nil {
		return entry, "", fmt.Errorf("ledger: sign entry: %w", err)
	}
	entry.Signature = sig

	return entry, chainHash, nil
}

// verifyChain recomputes payload hashes, signable digests and hash links
// for entries in order, given the chain hash preceding entries[0] and a
// verifier keyed by the signer's public key. It returns ChainBroken on
// the first seq whose stored payload, signature or link no longer
// matches.
func verifyChain(ctx context.Context, entries []contracts.LogEntry, prevHash string, pubKeyHex string, verifier crypto.Verifier) error {
	for _, e := range entries {
		if e.PrevSeqHash != prevHash {
			return graceerr.ChainBroken(e.Seq, "prev_seq_hash does not match preceding entry")
		}
		if crypto.HashBytes(e.Payload) != e.PayloadHash {
			return graceerr.ChainBroken(e.Seq, "payload does not match payload_hash")
		}

		expectedHash := crypto.HashBytes([]byte(prevHash + e.PayloadHash))

		signable := signableDigest(e.Seq, e.Timestamp.UTC().Format(timestampLayout), e.Actor, e.Action, e.Resource, e.PayloadHash, prevHash)
		ok, err := verifier.Verify(pubKeyHex, e.Signature, []byte(signable))
		if err != nil {
			return graceerr.ChainBroken(e.Seq, "signature verification error: "+err.Error())
		}
		if !ok {
			return graceerr.ChainBroken(e.Seq, "signature does not verify")
		}

		prevHash = expectedHash
	}
	return nil
}
