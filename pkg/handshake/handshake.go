// Package handshake implements the Component Handshake (L12): the
// onboarding protocol a new component goes through before it is
// trusted to act. Grounded on the teacher's escalation quorum pattern
// as already generalized in pkg/parliament — rather than invent a
// second "wait for N of M signed ACKs" mechanism, onboarding opens a
// Parliament session against a fixed acknowledger committee and reuses
// CastVote for each component's ACK.
package handshake

import (
	"context"
	"sync"
	"time"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
	"github.com/mindburn-labs/grace/pkg/parliament"
)

// DefaultAcknowledgers is the fixed default committee of spec.md §4.10:
// the components whose ACK is required before a newcomer is trusted.
var DefaultAcknowledgers = []string{
	"planner",
	"memory_broker",
	"health_graph",
	"anomaly_hub",
	"executor",
}

const (
	quorumWaitWindow   = 60 * time.Second
	observationWindow  = time.Hour
	acknowledgerQuorum = "component_acknowledgers"
)

// Authorizer is the narrow Governance Gate view onboarding depends on.
type Authorizer interface {
	Check(ctx context.Context, actor, action, resource string, payload map[string]any) (contracts.Decision, error)
}

// CryptoValidator verifies a component's identity proof against its
// claimed public key before onboarding proceeds.
type CryptoValidator interface {
	Verify(pubKeyHex, sigHex string, data []byte) (bool, error)
}

// Committee is the narrow Parliament view onboarding depends on: open a
// quorum session for the newcomer and record each acknowledger's vote.
type Committee interface {
	RegisterCommittee(c CommitteeConfig)
	CreateSession(ctx context.Context, policyName, actionType string, actionPayload map[string]any, actor, resource, committee string, quorumRequired int, approvalThreshold float64, expiresIn time.Duration, attachedAlerts []string, riskLevel string) (contracts.VotingSession, error)
	CastVote(ctx context.Context, sessionID, memberID string, choice contracts.VoteChoice, reason string, automated bool, confidence *float64) (contracts.VotingSession, error)
	GetSession(ctx context.Context, sessionID string) (contracts.VotingSession, error)
}

// CommitteeConfig mirrors parliament.Committee's shape without
// importing the package, so handshake stays decoupled from Parliament's
// storage concerns.
type CommitteeConfig struct {
	Name              string
	MemberIDs         []string
	QuorumRequired    int
	ApprovalThreshold float64
	DefaultExpiry     time.Duration
}

// Store persists onboarding state, keyed by component ID.
type Store interface {
	Put(ctx context.Context, onboarding contracts.ComponentOnboarding) error
	Get(ctx context.Context, componentID string) (contracts.ComponentOnboarding, bool, error)
}

// Recorder appends onboarding transitions to the Immutable Log.
type Recorder interface {
	RecordTransition(ctx context.Context, componentID string, state contracts.HandshakeState) error
}

// Publisher emits handshake lifecycle events onto the Event Mesh.
type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

// Handshake runs the onboarding protocol.
type Handshake struct {
	committee      Committee
	authz          Authorizer
	cryptoVerifier CryptoValidator
	store          Store
	recorder       Recorder
	publisher      Publisher

	acknowledgers []string
	clock         func() time.Time

	mu       sync.Mutex
	sessions map[string]string // componentID -> sessionID
}

// New constructs a Handshake using the default acknowledger committee.
func New(committee Committee, authz Authorizer, verifier CryptoValidator, store Store, recorder Recorder, publisher Publisher) *Handshake {
	h := &Handshake{
		committee:      committee,
		authz:          authz,
		cryptoVerifier: verifier,
		store:          store,
		recorder:       recorder,
		publisher:      publisher,
		acknowledgers:  DefaultAcknowledgers,
		clock:          time.Now,
		sessions:       make(map[string]string),
	}
	if committee != nil {
		committee.RegisterCommittee(CommitteeConfig{
			Name:              acknowledgerQuorum,
			MemberIDs:         h.acknowledgers,
			QuorumRequired:    len(h.acknowledgers),
			ApprovalThreshold: 0.51,
			DefaultExpiry:     quorumWaitWindow,
		})
	}
	return h
}

// WithClock overrides the clock for deterministic tests.
func (h *Handshake) WithClock(clock func() time.Time) *Handshake {
	h.clock = clock
	return h
}

// WithAcknowledgers overrides the default acknowledger set.
func (h *Handshake) WithAcknowledgers(ids []string) *Handshake {
	h.acknowledgers = ids
	if h.committee != nil {
		h.committee.RegisterCommittee(CommitteeConfig{
			Name:              acknowledgerQuorum,
			MemberIDs:         ids,
			QuorumRequired:    len(ids),
			ApprovalThreshold: 0.51,
			DefaultExpiry:     quorumWaitWindow,
		})
	}
	return h
}

// Begin starts onboarding for componentID: governance approval, then
// crypto validation of its identity proof, then opening a quorum ACK
// session with the acknowledger committee, per spec.md §4.10's state
// machine: pending -> (governance_approved ∧ crypto_validated) -> announced.
func (h *Handshake) Begin(ctx context.Context, componentID string, pubKeyHex, proofSignature string, proof []byte, riskLevel string) (contracts.ComponentOnboarding, error) {
	now := h.clock()
	onboarding := contracts.ComponentOnboarding{
		ComponentID:  componentID,
		State:        contracts.HandshakePending,
		RequiredAcks: append([]string{}, h.acknowledgers...),
		ReceivedAcks: make(map[string]bool),
		StartedAt:    now,
		Deadline:     now.Add(quorumWaitWindow),
	}
	h.persist(ctx, onboarding)

	if h.authz != nil {
		decision, err := h.authz.Check(ctx, componentID, "component_onboard", componentID, map[string]any{"risk_level": riskLevel})
		if err != nil {
			return onboarding, graceerr.Wrap(graceerr.KindUnauthorized, "handshake: governance check", err)
		}
		if decision.Decision == contracts.PolicyDeny {
			onboarding.State = contracts.HandshakeQuorumFailed
			h.persist(ctx, onboarding)
			return onboarding, graceerr.Unauthorized("handshake: governance denied onboarding for " + componentID)
		}
	}
	onboarding.GovernanceApproved = true
	onboarding.State = contracts.HandshakeGovernanceApproved
	h.persist(ctx, onboarding)

	if h.cryptoVerifier != nil {
		ok, err := h.cryptoVerifier.Verify(pubKeyHex, proofSignature, proof)
		if err != nil || !ok {
			onboarding.State = contracts.HandshakeQuorumFailed
			h.persist(ctx, onboarding)
			return onboarding, graceerr.Unauthorized("handshake: crypto validation failed for " + componentID)
		}
	}
	onboarding.CryptoValidated = true
	onboarding.State = contracts.HandshakeCryptoValidated
	h.persist(ctx, onboarding)

	if h.committee != nil {
		session, err := h.committee.CreateSession(ctx, "component_onboarding", "component_onboard",
			map[string]any{"component_id": componentID}, componentID, componentID, acknowledgerQuorum,
			len(h.acknowledgers), 0.51, quorumWaitWindow, nil, riskLevel)
		if err != nil {
			return onboarding, graceerr.Wrap(graceerr.KindLogUnavailable, "handshake: open quorum session", err)
		}
		h.mu.Lock()
		h.sessions[componentID] = session.SessionID
		h.mu.Unlock()
	}

	onboarding.State = contracts.HandshakeAnnounced
	h.persist(ctx, onboarding)
	return onboarding, nil
}

// Ack records one acknowledger's vote and, once the quorum session
// decides, advances the onboarding to integrated/observation_window or
// quorum_failed.
func (h *Handshake) Ack(ctx context.Context, componentID, memberID string, approve bool, reason string) (contracts.ComponentOnboarding, error) {
	onboarding, ok, err := h.lookup(ctx, componentID)
	if err != nil {
		return contracts.ComponentOnboarding{}, err
	}
	if !ok {
		return contracts.ComponentOnboarding{}, graceerr.NotFound("handshake: unknown component " + componentID)
	}

	h.mu.Lock()
	sessionID := h.sessions[componentID]
	h.mu.Unlock()
	if sessionID == "" || h.committee == nil {
		return onboarding, graceerr.Conflict("handshake: no open quorum session for " + componentID)
	}

	choice := contracts.VoteReject
	if approve {
		choice = contracts.VoteApprove
	}
	session, err := h.committee.CastVote(ctx, sessionID, memberID, choice, reason, false, nil)
	if err != nil {
		return onboarding, err
	}

	onboarding.ReceivedAcks[memberID] = approve

	switch session.Status {
	case contracts.SessionApproved:
		now := h.clock()
		observationUntil := now.Add(observationWindow)
		onboarding.State = contracts.HandshakeIntegrated
		onboarding.IntegratedAt = &now
		onboarding.ObservationUntil = &observationUntil
		h.persist(ctx, onboarding)
		h.transition(ctx, componentID, contracts.HandshakeQuorumMet)
		h.publish(ctx, componentID, contracts.HandshakeIntegrated)
	case contracts.SessionRejected, contracts.SessionTie, contracts.SessionExpired:
		onboarding.State = contracts.HandshakeQuorumFailed
		h.persist(ctx, onboarding)
		h.transition(ctx, componentID, contracts.HandshakeQuorumFailed)
		h.publish(ctx, componentID, contracts.HandshakeQuorumFailed)
	default:
		h.persist(ctx, onboarding)
	}

	return onboarding, nil
}

// IsObserving reports whether componentID is past quorum but still
// inside its bounded observation window.
func (h *Handshake) IsObserving(ctx context.Context, componentID string) (bool, error) {
	onboarding, ok, err := h.lookup(ctx, componentID)
	if err != nil || !ok {
		return false, err
	}
	if onboarding.State != contracts.HandshakeIntegrated || onboarding.ObservationUntil == nil {
		return false, nil
	}
	return h.clock().Before(*onboarding.ObservationUntil), nil
}

func (h *Handshake) lookup(ctx context.Context, componentID string) (contracts.ComponentOnboarding, bool, error) {
	if h.store == nil {
		return contracts.ComponentOnboarding{}, false, nil
	}
	onboarding, ok, err := h.store.Get(ctx, componentID)
	if err != nil {
		return contracts.ComponentOnboarding{}, false, graceerr.Wrap(graceerr.KindLogUnavailable, "handshake: load onboarding", err)
	}
	return onboarding, ok, nil
}

func (h *Handshake) persist(ctx context.Context, onboarding contracts.ComponentOnboarding) {
	if h.store == nil {
		return
	}
	_ = h.store.Put(ctx, onboarding)
}

func (h *Handshake) transition(ctx context.Context, componentID string, state contracts.HandshakeState) {
	if h.recorder == nil {
		return
	}
	_ = h.recorder.RecordTransition(ctx, componentID, state)
}

func (h *Handshake) publish(ctx context.Context, componentID string, state contracts.HandshakeState) {
	if h.publisher == nil {
		return
	}
	_ = h.publisher.Publish(ctx, contracts.Event{
		EventType: "handshake." + string(state),
		Source:    "handshake",
		Actor:     componentID,
		Resource:  componentID,
		Timestamp: h.clock(),
		Subsystem: "handshake",
		Payload:   map[string]any{"component_id": componentID, "state": string(state)},
	})
}

// ParliamentAdapter satisfies Committee by delegating to a real
// *parliament.Parliament, translating its richer Committee/VoteResult
// shapes into the narrower ones this package depends on.
type ParliamentAdapter struct {
	P *parliament.Parliament
}

// RegisterCommittee adapts CommitteeConfig into parliament.Committee.
func (a ParliamentAdapter) RegisterCommittee(c CommitteeConfig) {
	a.P.RegisterCommittee(parliament.Committee{
		Name:              c.Name,
		MemberIDs:         c.MemberIDs,
		QuorumRequired:    c.QuorumRequired,
		ApprovalThreshold: c.ApprovalThreshold,
		TallyBasis:        contracts.TallyByCount,
		DefaultExpiry:     c.DefaultExpiry,
	})
}

// CreateSession delegates directly; signatures already match.
func (a ParliamentAdapter) CreateSession(ctx context.Context, policyName, actionType string, actionPayload map[string]any, actor, resource, committee string, quorumRequired int, approvalThreshold float64, expiresIn time.Duration, attachedAlerts []string, riskLevel string) (contracts.VotingSession, error) {
	return a.P.CreateSession(ctx, policyName, actionType, actionPayload, actor, resource, committee, quorumRequired, approvalThreshold, expiresIn, attachedAlerts, riskLevel)
}

// CastVote unwraps parliament.VoteResult down to the session alone.
func (a ParliamentAdapter) CastVote(ctx context.Context, sessionID, memberID string, choice contracts.VoteChoice, reason string, automated bool, confidence *float64) (contracts.VotingSession, error) {
	result, err := a.P.CastVote(ctx, sessionID, memberID, choice, reason, automated, confidence)
	if err != nil {
		return contracts.VotingSession{}, err
	}
	return result.Session, nil
}

// GetSession delegates directly.
func (a ParliamentAdapter) GetSession(ctx context.Context, sessionID string) (contracts.VotingSession, error) {
	return a.P.GetSession(ctx, sessionID)
}
