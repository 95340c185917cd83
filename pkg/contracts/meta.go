package contracts

import "time"

// FocusArea is the closed set of concerns the Meta Coordinator may pick
// for a cycle, in descending priority order.
type FocusArea string

const (
	FocusErrorSpike       FocusArea = "error_spike"
	FocusTrustViolations  FocusArea = "trust_violations"
	FocusLatencyDrift     FocusArea = "latency_drift"
	FocusCapacityStrain   FocusArea = "capacity_strain"
	FocusDependencyHealth FocusArea = "dependency_health"
	FocusRoutine          FocusArea = "routine"
)

// FocusPriority orders focus areas highest-priority first, per spec.md §4.8.
var FocusPriority = []FocusArea{
	FocusErrorSpike,
	FocusTrustViolations,
	FocusLatencyDrift,
	FocusCapacityStrain,
	FocusDependencyHealth,
	FocusRoutine,
}

// Guardrail biases risk scoring tighter or looser.
type Guardrail string

const (
	GuardrailTighten  Guardrail = "tighten"
	GuardrailMaintain Guardrail = "maintain"
	GuardrailLoosen   Guardrail = "loosen"
)

// CycleFocus is the Meta Coordinator's decision for one cycle.
type CycleFocus struct {
	CycleID            string        `json:"cycle_id"`
	FocusArea          FocusArea     `json:"focus_area"`
	Reasoning          string        `json:"reasoning"`
	Confidence         float64       `json:"confidence"`
	Guardrail          Guardrail     `json:"guardrail"`
	ExtraProbes        []string      `json:"extra_probes"`
	PlaybookPriorities []string      `json:"playbook_priorities"`
	TimeBudget         time.Duration `json:"time_budget"`
	DecidedAt          time.Time     `json:"decided_at"`
}

// AdvisorAdvice is returned by every embedded advisor (anomaly scorer,
// root-cause, playbook ranker). Advisors are interface contracts, not ML
// specifics; any implementation satisfying Advise(focus) is acceptable.
type AdvisorAdvice struct {
	Source             string         `json:"source"`
	Recommendations    []string       `json:"recommendations"`
	Confidence         float64        `json:"confidence"`
	RootCauses         []string       `json:"root_causes,omitempty"`
	PlaybookRankings   []string       `json:"playbook_rankings,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Trigger is the Intelligent Trigger Hub's normalized prediction shape.
type Trigger struct {
	Code               string         `json:"code"`
	Title              string         `json:"title"`
	Likelihood         float64        `json:"likelihood"`
	Impact             string         `json:"impact"`
	SuggestedPlaybooks []string       `json:"suggested_playbooks"`
	Reasons            []string       `json:"reasons"`
	Source             string         `json:"source"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}
