package meta

import (
	"context"
	"fmt"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// AnomalyScorer flags the focus area's magnitude as a recommendation
// for deeper probing. It is rule-based by design: advisors are
// interface contracts, not ML specifics, so a statistical model can
// satisfy Advisor without changing anything else in the coordinator.
type AnomalyScorer struct{}

func (AnomalyScorer) Name() string { return "anomaly_scorer" }

func (AnomalyScorer) Advise(_ context.Context, focus contracts.FocusArea, contextData map[string]any) (contracts.AdvisorAdvice, error) {
	errorCount, _ := contextData["error_count"].(int)
	drift, _ := contextData["latency_drift_ratio"].(float64)
	strain, _ := contextData["capacity_strain_ratio"].(float64)

	var recs []string
	confidence := 0.3
	switch focus {
	case contracts.FocusErrorSpike:
		recs = append(recs, fmt.Sprintf("widen_error_sampling:%d", errorCount))
		confidence = 0.8
	case contracts.FocusLatencyDrift:
		recs = append(recs, "probe_dependency_latency")
		confidence = 0.6 + drift*0.2
	case contracts.FocusCapacityStrain:
		recs = append(recs, "probe_resource_headroom")
		confidence = 0.5 + strain*0.3
	default:
		recs = append(recs, "routine_sweep")
	}
	if confidence > 1 {
		confidence = 1
	}
	return contracts.AdvisorAdvice{
		Source:          "anomaly_scorer",
		Recommendations: recs,
		Confidence:      confidence,
	}, nil
}

// RootCauseAdvisor maps a focus area to the most likely contributing
// subsystems given the aggregate counters; it never claims certainty,
// only a ranked set of candidate causes.
type RootCauseAdvisor struct{}

func (RootCauseAdvisor) Name() string { return "root_cause" }

func (RootCauseAdvisor) Advise(_ context.Context, focus contracts.FocusArea, contextData map[string]any) (contracts.AdvisorAdvice, error) {
	blocked, _ := contextData["blocked_count"].(int)
	trustViolations, _ := contextData["trust_violation_count"].(int)
	unhealthyDeps, _ := contextData["dependency_unhealthy"].(int)

	var causes []string
	confidence := 0.4
	switch focus {
	case contracts.FocusErrorSpike:
		causes = []string{"deployment_regression", "dependency_outage"}
		confidence = 0.55
	case contracts.FocusTrustViolations:
		causes = append(causes, "credential_compromise")
		if trustViolations > 3 {
			causes = append(causes, "coordinated_attack")
			confidence = 0.75
		} else {
			confidence = 0.5
		}
	case contracts.FocusDependencyHealth:
		causes = []string{"upstream_dependency_degraded"}
		confidence = 0.5 + 0.05*float64(unhealthyDeps)
	case contracts.FocusCapacityStrain:
		causes = []string{"traffic_surge", "resource_leak"}
	default:
		if blocked > 0 {
			causes = append(causes, "governance_backlog")
		}
	}
	if confidence > 1 {
		confidence = 1
	}
	return contracts.AdvisorAdvice{
		Source:     "root_cause",
		RootCauses: causes,
		Confidence: confidence,
	}, nil
}

// PlaybookRankerAdvisor suggests which playbook families the Planner
// should weight higher for the chosen focus area.
type PlaybookRankerAdvisor struct{}

func (PlaybookRankerAdvisor) Name() string { return "playbook_ranker" }

func (PlaybookRankerAdvisor) Advise(_ context.Context, focus contracts.FocusArea, _ map[string]any) (contracts.AdvisorAdvice, error) {
	var rankings []string
	confidence := 0.5
	switch focus {
	case contracts.FocusErrorSpike:
		rankings = []string{"rollback_deployment", "restart_service"}
		confidence = 0.7
	case contracts.FocusCapacityStrain:
		rankings = []string{"scale_out", "shed_load"}
		confidence = 0.65
	case contracts.FocusTrustViolations:
		rankings = []string{"revoke_credentials", "isolate_node"}
		confidence = 0.6
	case contracts.FocusDependencyHealth:
		rankings = []string{"failover_dependency"}
		confidence = 0.55
	default:
		rankings = []string{"noop_observe"}
		confidence = 0.3
	}
	return contracts.AdvisorAdvice{
		Source:           "playbook_ranker",
		PlaybookRankings: rankings,
		Confidence:       confidence,
	}, nil
}
