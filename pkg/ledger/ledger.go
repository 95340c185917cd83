// Package ledger implements the Immutable Log (L2): an append-only,
// hash-chained, signed record of every consequential action in Grace.
// Grounded on the teacher's kernel.TotalOrderLog, generalized from a
// position/commit-hash chain to the spec's seq/payload-hash/signature
// shape and given a SQLite-backed durable implementation.
package ledger

import (
	"context"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// Ledger is the Immutable Log contract. Append assigns the next seq and
// signs the entry; Read returns entries matching a filter in seq order;
// Verify recomputes the hash chain over [from, to) (to is exclusive; 0
// means through the last entry) and reports the first break, if any.
type Ledger interface {
	Append(ctx context.Context, entry contracts.LogEntry) (contracts.LogEntry, error)
	Read(ctx context.Context, filter contracts.LogFilter) ([]contracts.LogEntry, error)
	Verify(ctx context.Context, from, to uint64) error
	Head(ctx context.Context) (contracts.LogEntry, bool, error)
	Len(ctx context.Context) (uint64, error)
}

// genesisHash seeds the chain for the first entry, mirroring the
// teacher's "genesis" sentinel for position zero.
const genesisHash = "genesis"
