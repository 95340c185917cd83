package parliament

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

func newTestParliament(t *testing.T) (*Parliament, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	signer, err := crypto.NewEd25519Signer("test-key")
	require.NoError(t, err)
	p := New(store, signer, nil, nil)
	return p, store
}

func registerMember(t *testing.T, store *InMemoryStore, id string, weight float64) {
	t.Helper()
	require.NoError(t, store.PutMember(context.Background(), contracts.ParliamentMember{
		MemberID: id, Type: contracts.MemberAgent, Role: "voter", Weight: weight, Active: true,
	}))
}

func TestCastVote_DecidesApprovedOnQuorum(t *testing.T) {
	p, store := newTestParliament(t)
	ctx := context.Background()
	registerMember(t, store, "m1", 1)
	registerMember(t, store, "m2", 1)

	p.RegisterCommittee(Committee{Name: "ops", QuorumRequired: 2, ApprovalThreshold: 0.5, TallyBasis: contracts.TallyByCount, DefaultExpiry: time.Hour})
	session, err := p.CreateSession(ctx, "pol", "execute", nil, "actor", "res", "ops", 0, 0, 0, nil, "high")
	require.NoError(t, err)

	_, err = p.CastVote(ctx, session.SessionID, "m1", contracts.VoteApprove, "", false, nil)
	require.NoError(t, err)
	result, err := p.CastVote(ctx, session.SessionID, "m2", contracts.VoteApprove, "", false, nil)
	require.NoError(t, err)

	assert.Equal(t, contracts.SessionApproved, result.Session.Status)
	assert.NotNil(t, result.Session.DecidedAt)
}

func TestCastVote_RejectedWhenApprovalBelowThreshold(t *testing.T) {
	p, store := newTestParliament(t)
	ctx := context.Background()
	registerMember(t, store, "m1", 1)
	registerMember(t, store, "m2", 1)
	registerMember(t, store, "m3", 1)

	p.RegisterCommittee(Committee{Name: "ops", QuorumRequired: 3, ApprovalThreshold: 0.6, TallyBasis: contracts.TallyByCount, DefaultExpiry: time.Hour})
	session, err := p.CreateSession(ctx, "pol", "execute", nil, "actor", "res", "ops", 0, 0, 0, nil, "high")
	require.NoError(t, err)

	_, err = p.CastVote(ctx, session.SessionID, "m1", contracts.VoteApprove, "", false, nil)
	require.NoError(t, err)
	_, err = p.CastVote(ctx, session.SessionID, "m2", contracts.VoteReject, "", false, nil)
	require.NoError(t, err)
	result, err := p.CastVote(ctx, session.SessionID, "m3", contracts.VoteReject, "", false, nil)
	require.NoError(t, err)

	assert.Equal(t, contracts.SessionRejected, result.Session.Status)
}

func TestCastVote_RejectsSecondVoteFromSameMember(t *testing.T) {
	p, store := newTestParliament(t)
	ctx := context.Background()
	registerMember(t, store, "m1", 1)

	p.RegisterCommittee(Committee{Name: "ops", QuorumRequired: 5, ApprovalThreshold: 0.5, DefaultExpiry: time.Hour})
	session, err := p.CreateSession(ctx, "pol", "execute", nil, "actor", "res", "ops", 0, 0, 0, nil, "low")
	require.NoError(t, err)

	_, err = p.CastVote(ctx, session.SessionID, "m1", contracts.VoteApprove, "", false, nil)
	require.NoError(t, err)

	_, err = p.CastVote(ctx, session.SessionID, "m1", contracts.VoteReject, "", false, nil)
	require.Error(t, err)
	assert.True(t, graceerr.Is(err, graceerr.KindConflict))
}

func TestCastVote_ExpiresWithoutQuorum(t *testing.T) {
	p, store := newTestParliament(t)
	ctx := context.Background()
	registerMember(t, store, "m1", 1)

	now := time.Now().UTC()
	clock := now
	p.WithClock(func() time.Time { return clock })

	p.RegisterCommittee(Committee{Name: "ops", QuorumRequired: 3, ApprovalThreshold: 0.5, DefaultExpiry: time.Second})
	session, err := p.CreateSession(ctx, "pol", "execute", nil, "actor", "res", "ops", 0, 0, 0, nil, "low")
	require.NoError(t, err)

	_, err = p.CastVote(ctx, session.SessionID, "m1", contracts.VoteApprove, "", false, nil)
	require.NoError(t, err)

	clock = now.Add(2 * time.Second)
	_, err = p.CastVote(ctx, session.SessionID, "m1", contracts.VoteApprove, "", false, nil)
	require.Error(t, err)

	got, err := p.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, contracts.SessionExpired, got.Status)
	assert.Contains(t, got.DecisionReason, "expired")
}

func TestCastVote_TieWhenAllAbstain(t *testing.T) {
	p, store := newTestParliament(t)
	ctx := context.Background()
	registerMember(t, store, "m1", 1)

	p.RegisterCommittee(Committee{Name: "ops", QuorumRequired: 1, ApprovalThreshold: 0.5, DefaultExpiry: time.Hour})
	session, err := p.CreateSession(ctx, "pol", "execute", nil, "actor", "res", "ops", 0, 0, 0, nil, "low")
	require.NoError(t, err)

	result, err := p.CastVote(ctx, session.SessionID, "m1", contracts.VoteAbstain, "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.SessionTie, result.Session.Status)
}

func TestCastVote_QuorumZeroDecidesOnFirstVote(t *testing.T) {
	p, store := newTestParliament(t)
	ctx := context.Background()
	registerMember(t, store, "m1", 1)

	p.RegisterCommittee(Committee{Name: "ops", QuorumRequired: 0, ApprovalThreshold: 0.5, DefaultExpiry: time.Hour})
	session, err := p.CreateSession(ctx, "pol", "execute", nil, "actor", "res", "ops", 0, 0, 0, nil, "low")
	require.NoError(t, err)

	result, err := p.CastVote(ctx, session.SessionID, "m1", contracts.VoteApprove, "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.SessionApproved, result.Session.Status)
}

func TestCastVote_WeightedBasisDecidesOnWeightedRatio(t *testing.T) {
	p, store := newTestParliament(t)
	ctx := context.Background()
	registerMember(t, store, "whale", 10)
	registerMember(t, store, "small", 1)

	p.RegisterCommittee(Committee{Name: "ops", QuorumRequired: 2, ApprovalThreshold: 0.6, TallyBasis: contracts.TallyByWeight, DefaultExpiry: time.Hour})
	session, err := p.CreateSession(ctx, "pol", "execute", nil, "actor", "res", "ops", 0, 0, 0, nil, "low")
	require.NoError(t, err)

	_, err = p.CastVote(ctx, session.SessionID, "whale", contracts.VoteApprove, "", false, nil)
	require.NoError(t, err)
	result, err := p.CastVote(ctx, session.SessionID, "small", contracts.VoteReject, "", false, nil)
	require.NoError(t, err)

	assert.Equal(t, contracts.SessionApproved, result.Session.Status)
}
