package app

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/executor"
	"github.com/mindburn-labs/grace/pkg/meta"
)

// OutcomeTracker is the reference meta.OutcomeHistory: a fixed-size
// ring of the executor's recent SignedOutcomes. It wraps another
// executor.Recorder (normally *LedgerRecorder) so outcomes still reach
// the Immutable Log exactly as before; the tracker only adds the
// in-memory rolling window the Meta Coordinator's guardrail hysteresis
// reads from.
type OutcomeTracker struct {
	next executor.Recorder

	mu      sync.Mutex
	results []bool // true = success, oldest first
	cap     int
}

// NewOutcomeTracker wraps next (the real log recorder) and retains up
// to capacity recent outcomes.
func NewOutcomeTracker(next executor.Recorder, capacity int) *OutcomeTracker {
	if capacity <= 0 {
		capacity = 200
	}
	return &OutcomeTracker{next: next, cap: capacity}
}

var _ executor.Recorder = (*OutcomeTracker)(nil)
var _ meta.OutcomeHistory = (*OutcomeTracker)(nil)

func (t *OutcomeTracker) RecordStep(ctx context.Context, planID, stepType, status string, payload map[string]any) error {
	if t.next != nil {
		return t.next.RecordStep(ctx, planID, stepType, status, payload)
	}
	return nil
}

func (t *OutcomeTracker) RecordOutcome(ctx context.Context, outcome contracts.SignedOutcome) error {
	t.mu.Lock()
	t.results = append(t.results, outcome.Result == "success")
	if len(t.results) > t.cap {
		t.results = t.results[len(t.results)-t.cap:]
	}
	t.mu.Unlock()

	if t.next != nil {
		return t.next.RecordOutcome(ctx, outcome)
	}
	return nil
}

// RecentSuccessRate reports the success fraction of the last n
// recorded outcomes (or fewer if that many haven't happened yet); an
// empty history reports 1.0 so a fresh node starts without tightening
// its guardrail.
func (t *OutcomeTracker) RecentSuccessRate(n int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.results) == 0 {
		return 1.0
	}
	if n <= 0 || n > len(t.results) {
		n = len(t.results)
	}
	window := t.results[len(t.results)-n:]
	var successes int
	for _, ok := range window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(window))
}
