package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// Archiver is the narrow surface export needs from a cold-storage
// adapter; adapters.GCSAdapter satisfies this directly via its
// PutObject method.
type Archiver interface {
	PutObject(ctx context.Context, object string, body []byte) error
}

// ExportSegment reads [from, to) from the ledger (to is exclusive; 0
// means through the last entry), verifies the hash
// chain holds over that range, and writes it as one JSON array object
// to archiver under a timestamped key — the Immutable Log's export
// path named in spec.md §6, used to move cold segments off the primary
// store without losing their verifiability.
func ExportSegment(ctx context.Context, l Ledger, archiver Archiver, prefix string, from, to uint64) (string, error) {
	if err := l.Verify(ctx, from, to); err != nil {
		return "", fmt.Errorf("ledger: refuse to export unverifiable range [%d,%d): %w", from, to, err)
	}

	all, err := l.Read(ctx, contracts.LogFilter{})
	if err != nil {
		return "", fmt.Errorf("ledger: read for export: %w", err)
	}
	var segment []contracts.LogEntry
	for _, e := range all {
		if e.Seq >= from && (to == 0 || e.Seq < to) {
			segment = append(segment, e)
		}
	}

	body, err := json.Marshal(segment)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal export segment: %w", err)
	}

	object := fmt.Sprintf("%s/segment-%020d-%020d-%d.json", prefix, from, to, time.Now().UTC().UnixNano())
	if err := archiver.PutObject(ctx, object, body); err != nil {
		return "", fmt.Errorf("ledger: archive segment to %s: %w", object, err)
	}
	return object, nil
}
