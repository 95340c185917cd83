package contracts

import "time"

// ActionRecord is a descriptive, non-executable record of a step: type +
// target + parameters. Actions are data that an Adapter interprets, never
// code stored in the log.
type ActionRecord struct {
	Type       string         `json:"type"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters"`
}

// Predicate is a named, data-driven condition evaluated by the caller
// (precondition, verification or rollback-trigger). The Expr field is a
// CEL source string; predicates are never Go closures so they remain
// inspectable and loggable.
type Predicate struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// RiskLevel is the closed set of playbook risk tiers.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Playbook is a declarative remediation recipe.
type Playbook struct {
	PlaybookID        string         `json:"playbook_id"`
	Name              string         `json:"name"`
	Preconditions     []Predicate    `json:"preconditions"`
	Steps             []ActionRecord `json:"steps"`
	Verifications     []Predicate    `json:"verifications"`
	VerificationWASM  []byte         `json:"verification_wasm,omitempty"`
	RollbackSteps     []ActionRecord `json:"rollback_steps"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	RequiresApproval  bool           `json:"requires_approval"`
	SuccessRate       float64        `json:"success_rate"`
	MinEngineVersion  string         `json:"min_engine_version,omitempty"` // semver constraint
	RetryBackoffCap   int            `json:"retry_backoff_cap"`
	ActionSchemaID    string         `json:"action_schema_id,omitempty"`
}

// PlanStatus is the closed set of Recovery Plan states.
type PlanStatus string

const (
	PlanProposed    PlanStatus = "proposed"
	PlanApproved    PlanStatus = "approved"
	PlanQueued      PlanStatus = "queued"
	PlanExecuting   PlanStatus = "executing"
	PlanCompleted   PlanStatus = "completed"
	PlanFailed      PlanStatus = "failed"
	PlanRolledBack  PlanStatus = "rolled_back"
)

// RecoveryPlan is a concrete remediation attempt built from a Playbook.
type RecoveryPlan struct {
	PlanID          string         `json:"plan_id"`
	Playbook        Playbook       `json:"playbook"`
	TargetNodes     []string       `json:"target_nodes"`
	Parameters      map[string]any `json:"parameters"`
	RiskScore       float64        `json:"risk_score"`
	Justification   string         `json:"justification"`
	RequiresApproval bool          `json:"requires_approval"`
	Status          PlanStatus     `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Outcome         *SignedOutcome `json:"outcome,omitempty"`
}

// SignedOutcome is the Executor's final, signed summary of a plan's run.
type SignedOutcome struct {
	PlanID            string    `json:"plan_id"`
	PlaybookID        string    `json:"playbook_id"`
	Result            string    `json:"result"`
	DurationMs        int64     `json:"duration_ms"`
	VerificationPassed bool     `json:"verification_passed"`
	TrustDecision     string    `json:"trust_decision"`
	Rationale         string    `json:"rationale"`
	LearnedInsights   []string  `json:"learned_insights,omitempty"`
	Signature         string    `json:"signature"`
	SignedAt          time.Time `json:"signed_at"`
}
