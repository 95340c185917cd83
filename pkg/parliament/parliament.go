// Package parliament implements the Parliament (L4): multi-voter
// decision sessions with quorum, threshold, weighted tallies, and
// expiry. Grounded on the teacher's escalation.Manager (in-process
// intent lifecycle keyed by a mutex-guarded map, clock injected for
// deterministic testing), generalized from a single-approver timeout
// to the full weighted multi-voter state machine of spec.md §4.4.
package parliament

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// Recorder appends an entry to the Immutable Log.
type Recorder interface {
	RecordSession(ctx context.Context, session contracts.VotingSession, action string) error
	RecordVote(ctx context.Context, vote contracts.Vote) error
}

// Publisher fans a decided session out onto the Event Mesh.
type Publisher interface {
	Publish(evt contracts.Event) error
}

// Committee is a named voting body: a fixed member roster, a quorum and
// threshold policy, and the tally basis spec.md §9 leaves as an
// explicit per-committee choice.
type Committee struct {
	Name              string
	MemberIDs         []string
	QuorumRequired    int
	ApprovalThreshold float64
	TallyBasis        contracts.TallyBasis
	DefaultExpiry     time.Duration
}

// Store persists sessions, votes, and members. InMemoryStore and
// PostgresStore both satisfy it.
type Store interface {
	PutMember(ctx context.Context, m contracts.ParliamentMember) error
	GetMember(ctx context.Context, memberID string) (contracts.ParliamentMember, bool, error)
	ListMembers(ctx context.Context) ([]contracts.ParliamentMember, error)

	CreateSession(ctx context.Context, s contracts.VotingSession) error
	GetSession(ctx context.Context, sessionID string) (contracts.VotingSession, bool, error)
	UpdateSession(ctx context.Context, s contracts.VotingSession) error
	ListSessions(ctx context.Context, status contracts.SessionStatus, committee string, limit int) ([]contracts.VotingSession, error)

	PutVote(ctx context.Context, v contracts.Vote) error
	HasVoted(ctx context.Context, sessionID, memberID string) (bool, error)
	VotesFor(ctx context.Context, sessionID string) ([]contracts.Vote, error)
}

// Parliament is the voting-session engine.
type Parliament struct {
	mu         sync.Mutex
	store      Store
	committees map[string]Committee
	signer     crypto.Signer
	recorder   Recorder
	publisher  Publisher
	clock      func() time.Time
}

// New constructs a Parliament over store, signing votes with signer.
func New(store Store, signer crypto.Signer, recorder Recorder, publisher Publisher) *Parliament {
	return &Parliament{
		store:      store,
		committees: make(map[string]Committee),
		signer:     signer,
		recorder:   recorder,
		publisher:  publisher,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic expiry tests.
func (p *Parliament) WithClock(clock func() time.Time) *Parliament {
	p.clock = clock
	return p
}

// RegisterCommittee adds or replaces a committee's voting policy.
func (p *Parliament) RegisterCommittee(c Committee) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committees[c.Name] = c
}

// CreateSession opens a voting session for committee, transitioning
// immediately from pending to voting per spec.md §4.4.
func (p *Parliament) CreateSession(ctx context.Context, policyName, actionType string, actionPayload map[string]any, actor, resource, committee string, quorumRequired int, approvalThreshold float64, expiresIn time.Duration, attachedAlerts []string, riskLevel string) (contracts.VotingSession, error) {
	p.mu.Lock()
	cfg, ok := p.committees[committee]
	p.mu.Unlock()

	basis := contracts.TallyByCount
	if ok {
		if quorumRequired <= 0 {
			quorumRequired = cfg.QuorumRequired
		}
		if approvalThreshold <= 0 {
			approvalThreshold = cfg.ApprovalThreshold
		}
		if expiresIn <= 0 {
			expiresIn = cfg.DefaultExpiry
		}
		if cfg.TallyBasis != "" {
			basis = cfg.TallyBasis
		}
	}
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	if approvalThreshold <= 0 {
		approvalThreshold = 0.5
	}

	now := p.clock()
	session := contracts.VotingSession{
		SessionID:         uuid.New().String(),
		PolicyName:        policyName,
		ActionType:        actionType,
		ActionPayload:     actionPayload,
		Actor:             actor,
		Resource:          resource,
		Committee:         committee,
		TallyBasis:        basis,
		QuorumRequired:    quorumRequired,
		ApprovalThreshold: approvalThreshold,
		Status:            contracts.SessionVoting, // pending -> voting happens at creation
		RiskLevel:         riskLevel,
		CreatedAt:         now,
		ExpiresAt:         now.Add(expiresIn),
		AttachedAlerts:    attachedAlerts,
	}

	if err := p.store.CreateSession(ctx, session); err != nil {
		return contracts.VotingSession{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: create session", err)
	}
	p.record(ctx, session, "created")
	return session, nil
}

// OpenSession implements governance.SessionOpener: the Governance Gate's
// review outcome calls this with a default operator committee. Callers
// needing explicit quorum/threshold control should call CreateSession.
func (p *Parliament) OpenSession(ctx context.Context, policyName, actionType string, payload map[string]any, actor, resource, riskLevel string) (string, error) {
	committee := "operators"
	if _, ok := p.committees[committee]; !ok {
		p.RegisterCommittee(Committee{Name: committee, QuorumRequired: 1, ApprovalThreshold: 0.5, TallyBasis: contracts.TallyByCount, DefaultExpiry: 15 * time.Minute})
	}
	session, err := p.CreateSession(ctx, policyName, actionType, payload, actor, resource, committee, 0, 0, 0, nil, riskLevel)
	if err != nil {
		return "", err
	}
	return session.SessionID, nil
}

// VoteResult is returned by CastVote alongside the (possibly updated)
// session.
type VoteResult struct {
	Vote    contracts.Vote
	Session contracts.VotingSession
}

// CastVote records member's ballot and re-evaluates the decision rule.
// A member may cast at most one vote per session (Conflict); a session
// already decided rejects further votes (Conflict, "SessionClosed").
func (p *Parliament) CastVote(ctx context.Context, sessionID, memberID string, choice contracts.VoteChoice, reason string, automated bool, confidence *float64) (VoteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return VoteResult{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: load session", err)
	}
	if !ok {
		return VoteResult{}, graceerr.NotFound("parliament: session " + sessionID + " not found")
	}

	now := p.clock()
	if session.DecidedAt != nil {
		return VoteResult{}, graceerr.Conflict("parliament: SessionClosed")
	}
	if now.After(session.ExpiresAt) {
		session = p.expire(session, now)
		if err := p.store.UpdateSession(ctx, session); err != nil {
			return VoteResult{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: persist expiry", err)
		}
		p.record(ctx, session, "expired")
		p.publish(session)
		return VoteResult{}, graceerr.Conflict("parliament: SessionClosed (expired)")
	}

	member, ok, err := p.store.GetMember(ctx, memberID)
	if err != nil {
		return VoteResult{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: load member", err)
	}
	if !ok || !member.Active || member.Suspended {
		return VoteResult{}, graceerr.Unauthorized("parliament: member " + memberID + " is not an active voter")
	}

	voted, err := p.store.HasVoted(ctx, sessionID, memberID)
	if err != nil {
		return VoteResult{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: check prior vote", err)
	}
	if voted {
		return VoteResult{}, graceerr.Conflict("parliament: member " + memberID + " already voted in session " + sessionID)
	}

	sig, err := p.signer.Sign([]byte(crypto.CanonicalizeVote(sessionID, memberID, string(choice), reason)))
	if err != nil {
		return VoteResult{}, fmt.Errorf("parliament: sign vote: %w", err)
	}

	vote := contracts.Vote{
		SessionID:  sessionID,
		MemberID:   memberID,
		Vote:       choice,
		Weight:     member.Weight,
		Reason:     reason,
		Automated:  automated,
		Confidence: confidence,
		Signature:  sig,
		CreatedAt:  now,
	}
	if err := p.store.PutVote(ctx, vote); err != nil {
		return VoteResult{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: persist vote", err)
	}
	p.recordVote(ctx, vote)

	session.Tallies = tally(session.Tallies, choice, member.Weight)
	session = p.decide(ctx, session, now)

	if err := p.store.UpdateSession(ctx, session); err != nil {
		return VoteResult{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: persist session", err)
	}
	if session.DecidedAt != nil {
		p.record(ctx, session, "decided")
		p.publish(session)
	} else {
		p.record(ctx, session, "voting")
	}

	return VoteResult{Vote: vote, Session: session}, nil
}

// tally adds one ballot's contribution to the running Tallies.
func tally(t contracts.Tallies, choice contracts.VoteChoice, weight float64) contracts.Tallies {
	switch choice {
	case contracts.VoteApprove:
		t.Approve++
		t.WeightedApprove += weight
	case contracts.VoteReject:
		t.Reject++
		t.WeightedReject += weight
	case contracts.VoteAbstain:
		t.Abstain++
		t.WeightedAbstain += weight
	}
	return t
}

// decide applies spec.md §4.4's decision rule. Let A,R,X be
// approve/reject/abstain counts (or weighted totals, per TallyBasis),
// T = A+R+X, D = A+R. If T < quorum and not expired, the session keeps
// voting; else tie if D == 0; else approved/rejected by threshold.
func (p *Parliament) decide(ctx context.Context, s contracts.VotingSession, now time.Time) contracts.VotingSession {
	a, r, x := s.Tallies.Approve, s.Tallies.Reject, s.Tallies.Abstain
	wa, wr, wx := s.Tallies.WeightedApprove, s.Tallies.WeightedReject, s.Tallies.WeightedAbstain

	total := a + r + x
	weightedTotal := wa + wr + wx

	quorumMet := total >= s.QuorumRequired
	expired := now.After(s.ExpiresAt)

	if !quorumMet && !expired {
		s.Status = contracts.SessionVoting
		return s
	}
	if expired && !quorumMet {
		return p.expire(s, now)
	}

	var decisive, positive float64
	if s.TallyBasis == contracts.TallyByWeight {
		decisive = wa + wr
		positive = wa
	} else {
		decisive = float64(a + r)
		positive = float64(a)
	}

	decided := now
	if decisive == 0 {
		s.Status = contracts.SessionTie
		s.DecidedAt = &decided
		s.DecisionReason = "no decisive votes cast (all abstain)"
		return s
	}
	if positive/decisive >= s.ApprovalThreshold {
		s.Status = contracts.SessionApproved
		s.DecisionReason = fmt.Sprintf("approval ratio %.2f met threshold %.2f", positive/decisive, s.ApprovalThreshold)
	} else {
		s.Status = contracts.SessionRejected
		s.DecisionReason = fmt.Sprintf("approval ratio %.2f below threshold %.2f", positive/decisive, s.ApprovalThreshold)
	}
	s.DecidedAt = &decided
	_ = weightedTotal
	return s
}

func (p *Parliament) expire(s contracts.VotingSession, now time.Time) contracts.VotingSession {
	s.Status = contracts.SessionExpired
	s.DecidedAt = &now
	s.DecisionReason = "Session expired without reaching quorum"
	return s
}

// GetSession returns a session by ID, expiring it in place first if its
// deadline has passed and it is still undecided.
func (p *Parliament) GetSession(ctx context.Context, sessionID string) (contracts.VotingSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return contracts.VotingSession{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: load session", err)
	}
	if !ok {
		return contracts.VotingSession{}, graceerr.NotFound("parliament: session " + sessionID + " not found")
	}
	if session.DecidedAt == nil && p.clock().After(session.ExpiresAt) {
		session = p.expire(session, p.clock())
		if err := p.store.UpdateSession(ctx, session); err != nil {
			return contracts.VotingSession{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: persist expiry", err)
		}
		p.record(ctx, session, "expired")
		p.publish(session)
	}
	return session, nil
}

// ListSessions lists sessions, optionally filtered by status/committee.
func (p *Parliament) ListSessions(ctx context.Context, status contracts.SessionStatus, committee string, limit int) ([]contracts.VotingSession, error) {
	sessions, err := p.store.ListSessions(ctx, status, committee, limit)
	if err != nil {
		return nil, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: list sessions", err)
	}
	return sessions, nil
}

// ListMembers returns all registered Parliament members.
func (p *Parliament) ListMembers(ctx context.Context) ([]contracts.ParliamentMember, error) {
	members, err := p.store.ListMembers(ctx)
	if err != nil {
		return nil, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: list members", err)
	}
	return members, nil
}

// RegisterMember upserts a Parliament member record.
func (p *Parliament) RegisterMember(ctx context.Context, m contracts.ParliamentMember) error {
	if err := p.store.PutMember(ctx, m); err != nil {
		return graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: register member", err)
	}
	return nil
}

// Statistics summarizes outcomes across all known sessions, for the
// `parliament stats` CLI surface.
type Statistics struct {
	Total     int
	Approved  int
	Rejected  int
	Tied      int
	Expired   int
	Voting    int
	ByMember  map[string]int
}

// GetStatistics aggregates session outcomes and per-member vote counts.
func (p *Parliament) GetStatistics(ctx context.Context) (Statistics, error) {
	sessions, err := p.store.ListSessions(ctx, "", "", 0)
	if err != nil {
		return Statistics{}, graceerr.Wrap(graceerr.KindLogUnavailable, "parliament: statistics", err)
	}
	stats := Statistics{ByMember: make(map[string]int)}
	for _, s := range sessions {
		stats.Total++
		switch s.Status {
		case contracts.SessionApproved:
			stats.Approved++
		case contracts.SessionRejected:
			stats.Rejected++
		case contracts.SessionTie:
			stats.Tied++
		case contracts.SessionExpired:
			stats.Expired++
		case contracts.SessionVoting, contracts.SessionPending:
			stats.Voting++
		}
		votes, err := p.store.VotesFor(ctx, s.SessionID)
		if err != nil {
			continue
		}
		for _, v := range votes {
			stats.ByMember[v.MemberID]++
		}
	}
	return stats, nil
}

func (p *Parliament) record(ctx context.Context, s contracts.VotingSession, action string) {
	if p.recorder == nil {
		return
	}
	_ = p.recorder.RecordSession(ctx, s, action)
}

func (p *Parliament) recordVote(ctx context.Context, v contracts.Vote) {
	if p.recorder == nil {
		return
	}
	_ = p.recorder.RecordVote(ctx, v)
}

func (p *Parliament) publish(s contracts.VotingSession) {
	if p.publisher == nil {
		return
	}
	_ = p.publisher.Publish(contracts.Event{
		EventType: "parliament.decided",
		Source:    "parliament",
		Actor:     s.Actor,
		Resource:  s.Resource,
		Payload: map[string]any{
			"session_id": s.SessionID,
			"status":     string(s.Status),
			"reason":     s.DecisionReason,
		},
		Timestamp: p.clock(),
		Subsystem: "parliament",
	})
}
