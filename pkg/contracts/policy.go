package contracts

// PolicyAction is the decision a matching policy produces.
type PolicyAction string

const (
	PolicyAllow  PolicyAction = "allow"
	PolicyDeny   PolicyAction = "deny"
	PolicyReview PolicyAction = "review"
)

// PolicyCondition is data, not code: a CEL source string plus the
// structured keyword/path matchers the Governance Gate evaluates
// alongside it. Conditions never carry executable Go.
type PolicyCondition struct {
	CELExpr        string   `json:"cel_expr,omitempty"`
	Action         string   `json:"action,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	ForbiddenPaths []string `json:"forbidden_paths,omitempty"`
	RiskAtOrAbove  string   `json:"risk_at_or_above,omitempty"` // "high" | "critical"
}

// Policy is a single static governance rule.
type Policy struct {
	Name      string          `json:"name"`
	Condition PolicyCondition `json:"condition"`
	Action    PolicyAction    `json:"action"`
	Severity  int             `json:"severity"` // higher evaluates first
}

// Decision is the outcome of a Governance Gate check.
type Decision struct {
	Decision            PolicyAction `json:"decision"`
	Reason              string       `json:"reason"`
	ParliamentSessionID string       `json:"parliament_session_id,omitempty"`
	AuditID             string       `json:"audit_id"`
}
