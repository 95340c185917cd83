package app

import (
	"context"
	"time"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/healthgraph"
	"github.com/mindburn-labs/grace/pkg/ledger"
	"github.com/mindburn-labs/grace/pkg/meta"
)

// LedgerHealthObserver is the reference meta.Observer: it summarizes
// the Immutable Log's recent window by Result and cross-references the
// Health Graph's current node statuses for dependency-health and
// capacity signals, per spec.md §4.8 step 2.
type LedgerHealthObserver struct {
	log   ledger.Ledger
	graph *healthgraph.Graph
}

// NewLedgerHealthObserver builds an Observer over log and graph.
func NewLedgerHealthObserver(log ledger.Ledger, graph *healthgraph.Graph) *LedgerHealthObserver {
	return &LedgerHealthObserver{log: log, graph: graph}
}

var _ meta.Observer = (*LedgerHealthObserver)(nil)

func (o *LedgerHealthObserver) Observe(ctx context.Context, since time.Time) (meta.Aggregates, error) {
	entries, err := o.log.Read(ctx, contracts.LogFilter{From: since})
	if err != nil {
		return meta.Aggregates{}, err
	}

	var agg meta.Aggregates
	for _, e := range entries {
		switch e.Result {
		case contracts.ResultError, contracts.ResultFailed:
			agg.ErrorCount++
		case contracts.ResultBlocked, contracts.ResultDenied:
			agg.BlockedCount++
		}
		if e.Subsystem == "handshake" || e.Subsystem == "identity" {
			if e.Result == contracts.ResultDenied {
				agg.TrustViolationCount++
			}
		}
	}

	if o.graph != nil {
		nodes, err := o.graph.All(ctx)
		if err == nil && len(nodes) > 0 {
			var unhealthy, degraded int
			for _, n := range nodes {
				switch n.Status {
				case contracts.HealthCritical, contracts.HealthUnknown:
					unhealthy++
				case contracts.HealthDegraded:
					degraded++
				}
			}
			agg.DependencyUnhealthyCount = unhealthy
			agg.CapacityStrainRatio = float64(degraded+unhealthy) / float64(len(nodes))
		}
	}

	return agg, nil
}
