package contracts

import "time"

// SessionStatus is the closed set of Voting Session states.
type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionVoting   SessionStatus = "voting"
	SessionApproved SessionStatus = "approved"
	SessionRejected SessionStatus = "rejected"
	SessionExpired  SessionStatus = "expired"
	SessionTie      SessionStatus = "tie"
)

// TallyBasis chooses whether a committee decides on raw vote counts or
// on weighted totals. Spec.md §9 leaves this an explicit per-committee
// choice rather than guessing one true answer.
type TallyBasis string

const (
	TallyByCount  TallyBasis = "count"
	TallyByWeight TallyBasis = "weight"
)

// Tallies holds both the unweighted and weighted vote counts. Both are
// always maintained; only one informs the decision rule, per TallyBasis.
type Tallies struct {
	Approve         int     `json:"approve"`
	Reject          int     `json:"reject"`
	Abstain         int     `json:"abstain"`
	WeightedApprove float64 `json:"weighted_approve"`
	WeightedReject  float64 `json:"weighted_reject"`
	WeightedAbstain float64 `json:"weighted_abstain"`
}

// VotingSession is a multi-voter decision with quorum and threshold.
type VotingSession struct {
	SessionID         string         `json:"session_id"`
	PolicyName        string         `json:"policy_name"`
	ActionType        string         `json:"action_type"`
	ActionPayload     map[string]any `json:"action_payload"`
	Actor             string         `json:"actor"`
	Resource          string         `json:"resource"`
	Committee         string         `json:"committee"`
	TallyBasis        TallyBasis     `json:"tally_basis"`
	QuorumRequired    int            `json:"quorum_required"`
	ApprovalThreshold float64        `json:"approval_threshold"`
	Status            SessionStatus  `json:"status"`
	Tallies           Tallies        `json:"tallies"`
	RiskLevel         string         `json:"risk_level"`
	CreatedAt         time.Time      `json:"created_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	DecidedAt         *time.Time     `json:"decided_at,omitempty"`
	DecisionReason    string         `json:"decision_reason,omitempty"`
	AttachedAlerts    []string       `json:"attached_alerts,omitempty"`
}

// VoteChoice is the closed set of ballot choices.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// Vote is one member's ballot within a session.
type Vote struct {
	SessionID  string     `json:"session_id"`
	MemberID   string     `json:"member_id"`
	Vote       VoteChoice `json:"vote"`
	Weight     float64    `json:"weight"`
	Reason     string     `json:"reason,omitempty"`
	Automated  bool       `json:"automated"`
	Confidence *float64   `json:"confidence,omitempty"`
	Signature  string     `json:"signature"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MemberType is the closed set of Parliament member kinds.
type MemberType string

const (
	MemberHuman      MemberType = "human"
	MemberAgent      MemberType = "agent"
	MemberReflection MemberType = "reflection"
)

// ParliamentMember is a registered voter.
type ParliamentMember struct {
	MemberID      string         `json:"member_id"`
	Type          MemberType     `json:"type"`
	Role          string         `json:"role"`
	Committees    []string       `json:"committees"`
	Weight        float64        `json:"weight"`
	Active        bool           `json:"active"`
	Suspended     bool           `json:"suspended"`
	TallyCounters map[string]int `json:"tally_counters,omitempty"`
}
