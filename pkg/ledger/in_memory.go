package ledger

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// InMemoryLedger is the test/dev backend: a slice plus a chain-hash
// index, guarded by a single mutex. It is not durable across restarts.
type InMemoryLedger struct {
	mu       sync.RWMutex
	entries  []contracts.LogEntry
	chain    []string // chain[i] is the chain hash after entries[i]
	signer   crypto.Signer
	verifier crypto.Verifier
}

// NewInMemoryLedger constructs a ledger signing with signer.
func NewInMemoryLedger(signer crypto.Signer) *InMemoryLedger {
	return &InMemoryLedger{signer: signer, verifier: crypto.DefaultVerifier{}}
}

func (l *InMemoryLedger) Append(ctx context.Context, entry contracts.LogEntry) (contracts.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries))
	prevHash := genesisHash
	if seq > 0 {
		prevHash = l.chain[seq-1]
	}

	linked, chainHash, err := chainLink(entry, seq, prevHash, l.signer)
	if err != nil {
		return contracts.LogEntry{}, graceerr.Wrap(graceerr.KindLogUnavailable, "append failed", err)
	}

	l.entries = append(l.entries, linked)
	l.chain = append(l.chain, chainHash)
	return linked, nil
}

func (l *InMemoryLedger) Read(ctx context.Context, filter contracts.LogFilter) ([]contracts.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []contracts.LogEntry
	for _, e := range l.entries {
		if !matchFilter(e, filter) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *InMemoryLedger) Verify(ctx context.Context, from, to uint64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if uint64(len(l.entries)) == 0 {
		return nil
	}
	if to == 0 || to > uint64(len(l.entries)) {
		to = uint64(len(l.entries))
	}
	if from >= to {
		return nil
	}

	prevHash := genesisHash
	if from > 0 {
		prevHash = l.chain[from-1]
	}

	pubKey := l.signer.PublicKey()
	return verifyChain(ctx, l.entries[from:to], prevHash, pubKey, l.verifier)
}

func (l *InMemoryLedger) Head(ctx context.Context) (contracts.LogEntry, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return contracts.LogEntry{}, false, nil
	}
	return l.entries[len(l.entries)-1], true, nil
}

func (l *InMemoryLedger) Len(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries)), nil
}

func matchFilter(e contracts.LogEntry, f contracts.LogFilter) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Subsystem != "" && e.Subsystem != f.Subsystem {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	return true
}
