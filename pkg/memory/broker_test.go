package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

type stubAuthorizer struct {
	decision contracts.Decision
}

func (a *stubAuthorizer) Check(_ context.Context, actor, action, resource string, payload map[string]any) (contracts.Decision, error) {
	return a.decision, nil
}

type stubTrust struct{ trust float64 }

func (t *stubTrust) TrustOf(_ context.Context, domain string) float64 { return t.trust }

func newTestBroker(t *testing.T, authz Authorizer, trust TrustProvider) *Broker {
	t.Helper()
	store := NewInMemoryStore()
	quota := NewInMemoryQuota(time.Minute, 100)
	return New(store, quota, authz, trust, nil, nil)
}

func TestRequestMemory_DomainIsolationWithoutCrossDomain(t *testing.T) {
	b := newTestBroker(t, &stubAuthorizer{decision: contracts.Decision{Decision: contracts.PolicyAllow}}, &stubTrust{trust: 1})
	ctx := context.Background()

	_, err := b.StoreMemory(ctx, "domain-a", contracts.MemoryEpisodic, map[string]any{"k": "v"}, []string{"x"}, "actor")
	require.NoError(t, err)

	resp, err := b.RequestMemory(ctx, contracts.MemoryRequest{Domain: "domain-b", MemoryType: contracts.MemoryEpisodic, Actor: "actor"})
	require.NoError(t, err)
	assert.Empty(t, resp.Memories)
	for _, m := range resp.Memories {
		assert.Equal(t, "domain-b", m.Domain)
	}
}

func TestRequestMemory_CrossDomainRequiresTrust(t *testing.T) {
	b := newTestBroker(t, &stubAuthorizer{decision: contracts.Decision{Decision: contracts.PolicyAllow}}, &stubTrust{trust: 0.5})
	ctx := context.Background()

	_, err := b.StoreMemory(ctx, "domain-a", contracts.MemoryEpisodic, map[string]any{"k": "v"}, []string{"sensitive"}, "actor")
	require.NoError(t, err)

	resp, err := b.RequestMemory(ctx, contracts.MemoryRequest{
		Domain: "domain-b", MemoryType: contracts.MemoryEpisodic, IncludeCrossDomain: true, Actor: "actor",
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.AccessRestricted, resp.AccessLevel)
	assert.Empty(t, resp.Memories)
	assert.Contains(t, resp.AppliedPolicies, "sensitive_content_filter")
}

func TestRequestMemory_DeniedByGovernance(t *testing.T) {
	b := newTestBroker(t, &stubAuthorizer{decision: contracts.Decision{Decision: contracts.PolicyDeny, Reason: "blocked"}}, &stubTrust{trust: 1})
	resp, err := b.RequestMemory(context.Background(), contracts.MemoryRequest{Domain: "domain-a", MemoryType: contracts.MemoryEpisodic})
	require.NoError(t, err)
	assert.Equal(t, contracts.AccessDenied, resp.AccessLevel)
}

func TestRequestMemory_RateLimited(t *testing.T) {
	store := NewInMemoryStore()
	quota := NewInMemoryQuota(time.Minute, 1)
	b := New(store, quota, &stubAuthorizer{decision: contracts.Decision{Decision: contracts.PolicyAllow}}, &stubTrust{trust: 1}, nil, nil)

	ctx := context.Background()
	_, err := b.RequestMemory(ctx, contracts.MemoryRequest{Domain: "d", MemoryType: contracts.MemoryEpisodic})
	require.NoError(t, err)

	resp, err := b.RequestMemory(ctx, contracts.MemoryRequest{Domain: "d", MemoryType: contracts.MemoryEpisodic})
	require.NoError(t, err)
	assert.Equal(t, contracts.AccessDenied, resp.AccessLevel)
	assert.Equal(t, "Rate limit exceeded", resp.Explanation)
}

func TestRequestMemory_LimitZeroReturnsNoneButCounts(t *testing.T) {
	b := newTestBroker(t, &stubAuthorizer{decision: contracts.Decision{Decision: contracts.PolicyAllow}}, &stubTrust{trust: 1})
	ctx := context.Background()
	_, err := b.StoreMemory(ctx, "d", contracts.MemoryEpisodic, map[string]any{"k": "v"}, nil, "actor")
	require.NoError(t, err)

	resp, err := b.RequestMemory(ctx, contracts.MemoryRequest{Domain: "d", MemoryType: contracts.MemoryEpisodic, Limit: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalCount)
}

func TestRequestMemory_FiltersExpiredByMaxAge(t *testing.T) {
	store := NewInMemoryStore()
	quota := NewInMemoryQuota(time.Minute, 100)
	b := New(store, quota, &stubAuthorizer{decision: contracts.Decision{Decision: contracts.PolicyAllow}}, &stubTrust{trust: 1}, nil, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.WithClock(func() time.Time { return fixed })

	maxAge := 1.0
	require.NoError(t, store.Put(context.Background(), contracts.MemoryEntry{
		EntryID: "e1", Domain: "d", MemoryType: contracts.MemoryWorking,
		Timestamp: fixed.Add(-2 * time.Hour), Metadata: contracts.MemoryMetadata{MaxAgeHours: &maxAge},
	}))

	resp, err := b.RequestMemory(context.Background(), contracts.MemoryRequest{Domain: "d", MemoryType: contracts.MemoryWorking})
	require.NoError(t, err)
	assert.Empty(t, resp.Memories)
	assert.Equal(t, 1, resp.FilteredCount)
}
