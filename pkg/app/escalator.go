package app

import (
	"context"

	"github.com/mindburn-labs/grace/pkg/parliament"
)

// ParliamentEscalator adapts *parliament.Parliament's general
// OpenSession to the Executor's narrow Escalator contract: a
// rollback-failure always opens a critical-risk session against
// OpenSession's default operator committee.
type ParliamentEscalator struct {
	Parliament *parliament.Parliament
}

// NewParliamentEscalator wraps p.
func NewParliamentEscalator(p *parliament.Parliament) *ParliamentEscalator {
	return &ParliamentEscalator{Parliament: p}
}

func (e *ParliamentEscalator) EscalateCritical(ctx context.Context, reason string, payload map[string]any) (string, error) {
	return e.Parliament.OpenSession(ctx, "rollback_failure_escalation", "rollback_failed", payload, "executor", reason, "critical")
}
