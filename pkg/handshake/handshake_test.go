package handshake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

type memStore struct {
	data map[string]contracts.ComponentOnboarding
}

func newMemStore() *memStore { return &memStore{data: map[string]contracts.ComponentOnboarding{}} }

func (s *memStore) Put(_ context.Context, o contracts.ComponentOnboarding) error {
	s.data[o.ComponentID] = o
	return nil
}

func (s *memStore) Get(_ context.Context, componentID string) (contracts.ComponentOnboarding, bool, error) {
	o, ok := s.data[componentID]
	return o, ok, nil
}

type allowAuthorizer struct{ decision contracts.PolicyAction }

func (a *allowAuthorizer) Check(_ context.Context, _, _, _ string, _ map[string]any) (contracts.Decision, error) {
	return contracts.Decision{Decision: a.decision}, nil
}

type fixedVerifier struct{ ok bool }

func (v *fixedVerifier) Verify(_, _ string, _ []byte) (bool, error) { return v.ok, nil }

// stubCommittee simulates a quorum session in memory: required of
// acknowledgers must approve before Status flips to Approved.
type stubCommittee struct {
	required int
	approved int
	rejected int
	votes    map[string]bool
	status   contracts.SessionStatus
}

func newStubCommittee() *stubCommittee {
	return &stubCommittee{status: contracts.SessionVoting, votes: map[string]bool{}}
}

func (c *stubCommittee) RegisterCommittee(cfg CommitteeConfig) {
	c.required = cfg.QuorumRequired
}

func (c *stubCommittee) CreateSession(_ context.Context, _, _ string, _ map[string]any, _, _, _ string, quorumRequired int, _ float64, _ time.Duration, _ []string, _ string) (contracts.VotingSession, error) {
	if quorumRequired > 0 {
		c.required = quorumRequired
	}
	return contracts.VotingSession{SessionID: "session-1", Status: contracts.SessionVoting}, nil
}

func (c *stubCommittee) CastVote(_ context.Context, _, memberID string, choice contracts.VoteChoice, _ string, _ bool, _ *float64) (contracts.VotingSession, error) {
	c.votes[memberID] = choice == contracts.VoteApprove
	if choice == contracts.VoteApprove {
		c.approved++
	} else {
		c.rejected++
	}
	if c.rejected > 0 {
		c.status = contracts.SessionRejected
	} else if c.approved >= c.required {
		c.status = contracts.SessionApproved
	}
	return contracts.VotingSession{SessionID: "session-1", Status: c.status}, nil
}

func (c *stubCommittee) GetSession(_ context.Context, _ string) (contracts.VotingSession, error) {
	return contracts.VotingSession{SessionID: "session-1", Status: c.status}, nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestBegin_GovernanceDenialFailsImmediately(t *testing.T) {
	h := New(newStubCommittee(), &allowAuthorizer{decision: contracts.PolicyDeny}, &fixedVerifier{ok: true}, newMemStore(), nil, nil)
	onboarding, err := h.Begin(context.Background(), "new_adapter", "pub", "sig", []byte("proof"), "low")
	assert.Error(t, err)
	assert.Equal(t, contracts.HandshakeQuorumFailed, onboarding.State)
}

func TestBegin_CryptoValidationFailure(t *testing.T) {
	h := New(newStubCommittee(), &allowAuthorizer{decision: contracts.PolicyAllow}, &fixedVerifier{ok: false}, newMemStore(), nil, nil)
	onboarding, err := h.Begin(context.Background(), "new_adapter", "pub", "sig", []byte("proof"), "low")
	assert.Error(t, err)
	assert.Equal(t, contracts.HandshakeQuorumFailed, onboarding.State)
}

func TestBegin_ReachesAnnouncedOnSuccess(t *testing.T) {
	h := New(newStubCommittee(), &allowAuthorizer{decision: contracts.PolicyAllow}, &fixedVerifier{ok: true}, newMemStore(), nil, nil).
		WithClock(fixedClock(time.Unix(0, 0)))
	onboarding, err := h.Begin(context.Background(), "new_adapter", "pub", "sig", []byte("proof"), "low")
	require.NoError(t, err)
	assert.Equal(t, contracts.HandshakeAnnounced, onboarding.State)
	assert.True(t, onboarding.GovernanceApproved)
	assert.True(t, onboarding.CryptoValidated)
}

func TestAck_QuorumMetIntegratesWithObservationWindow(t *testing.T) {
	committee := newStubCommittee()
	store := newMemStore()
	h := New(committee, &allowAuthorizer{decision: contracts.PolicyAllow}, &fixedVerifier{ok: true}, store, nil, nil).
		WithAcknowledgers([]string{"planner", "executor"}).
		WithClock(fixedClock(time.Unix(0, 0)))

	_, err := h.Begin(context.Background(), "new_adapter", "pub", "sig", []byte("proof"), "low")
	require.NoError(t, err)

	onboarding, err := h.Ack(context.Background(), "new_adapter", "planner", true, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, contracts.HandshakeAnnounced, onboarding.State)

	onboarding, err = h.Ack(context.Background(), "new_adapter", "executor", true, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, contracts.HandshakeIntegrated, onboarding.State)
	require.NotNil(t, onboarding.ObservationUntil)

	observing, err := h.IsObserving(context.Background(), "new_adapter")
	require.NoError(t, err)
	assert.True(t, observing)
}

func TestAck_QuorumRejectedMarksFailed(t *testing.T) {
	committee := newStubCommittee()
	h := New(committee, &allowAuthorizer{decision: contracts.PolicyAllow}, &fixedVerifier{ok: true}, newMemStore(), nil, nil).
		WithAcknowledgers([]string{"planner", "executor"}).
		WithClock(fixedClock(time.Unix(0, 0)))

	_, err := h.Begin(context.Background(), "new_adapter", "pub", "sig", []byte("proof"), "low")
	require.NoError(t, err)

	onboarding, err := h.Ack(context.Background(), "new_adapter", "planner", false, "suspicious signature")
	require.NoError(t, err)
	assert.Equal(t, contracts.HandshakeQuorumFailed, onboarding.State)
}

func TestAck_UnknownComponentNotFound(t *testing.T) {
	h := New(newStubCommittee(), nil, nil, newMemStore(), nil, nil)
	_, err := h.Ack(context.Background(), "ghost", "planner", true, "")
	assert.Error(t, err)
}

func TestIsObserving_FalseAfterWindowElapses(t *testing.T) {
	committee := newStubCommittee()
	store := newMemStore()
	now := time.Unix(0, 0)
	h := New(committee, &allowAuthorizer{decision: contracts.PolicyAllow}, &fixedVerifier{ok: true}, store, nil, nil).
		WithAcknowledgers([]string{"planner"}).
		WithClock(fixedClock(now))

	_, err := h.Begin(context.Background(), "new_adapter", "pub", "sig", []byte("proof"), "low")
	require.NoError(t, err)
	_, err = h.Ack(context.Background(), "new_adapter", "planner", true, "ok")
	require.NoError(t, err)

	h.WithClock(fixedClock(now.Add(2 * time.Hour)))
	observing, err := h.IsObserving(context.Background(), "new_adapter")
	require.NoError(t, err)
	assert.False(t, observing)
}
