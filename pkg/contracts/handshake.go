package contracts

import "time"

// HandshakeState is the closed set of onboarding protocol states.
type HandshakeState string

const (
	HandshakePending             HandshakeState = "pending"
	HandshakeGovernanceApproved  HandshakeState = "governance_approved"
	HandshakeCryptoValidated     HandshakeState = "crypto_validated"
	HandshakeAnnounced           HandshakeState = "announced"
	HandshakeQuorumMet           HandshakeState = "quorum_met"
	HandshakeQuorumFailed        HandshakeState = "quorum_failed"
	HandshakeIntegrated          HandshakeState = "integrated"
	HandshakeObservationWindow   HandshakeState = "observation_window"
)

// ComponentOnboarding tracks one component's progress through the
// handshake protocol.
type ComponentOnboarding struct {
	ComponentID        string             `json:"component_id"`
	State              HandshakeState     `json:"state"`
	RequiredAcks       []string           `json:"required_acks"`
	ReceivedAcks       map[string]bool    `json:"received_acks"`
	GovernanceApproved bool               `json:"governance_approved"`
	CryptoValidated    bool               `json:"crypto_validated"`
	StartedAt          time.Time          `json:"started_at"`
	Deadline           time.Time          `json:"deadline"`
	IntegratedAt       *time.Time         `json:"integrated_at,omitempty"`
	ObservationUntil   *time.Time         `json:"observation_until,omitempty"`
}

// AccessRequest is the generic shape passed into the Governance Gate.
type AccessRequest struct {
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Payload   map[string]any `json:"payload"`
	RiskLevel string         `json:"risk_level,omitempty"`
}
