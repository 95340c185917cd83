package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

type stubOpener struct {
	sessionID string
	called    bool
	lastRisk  string
}

func (s *stubOpener) OpenSession(_ context.Context, policyName, actionType string, payload map[string]any, actor, resource, riskLevel string) (string, error) {
	s.called = true
	s.lastRisk = riskLevel
	return s.sessionID, nil
}

type stubRecorder struct {
	decisions []contracts.Decision
}

func (r *stubRecorder) RecordDecision(_ context.Context, actor, action, resource string, payload map[string]any, decision contracts.Decision) error {
	r.decisions = append(r.decisions, decision)
	return nil
}

func TestCheck_StaticDenyWinsImmediately(t *testing.T) {
	opener := &stubOpener{}
	recorder := &stubRecorder{}
	g, err := New(opener, recorder)
	require.NoError(t, err)

	require.NoError(t, g.LoadPolicy(contracts.Policy{
		Name:      "block-prod-delete",
		Severity:  100,
		Action:    contracts.PolicyDeny,
		Condition: contracts.PolicyCondition{ForbiddenPaths: []string{"prod/"}},
	}))

	decision, err := g.Check(context.Background(), "agent-1", "delete_table", "prod/orders", nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyDeny, decision.Decision)
	assert.False(t, opener.called)
}

func TestCheck_HighRiskRequiresReview(t *testing.T) {
	opener := &stubOpener{sessionID: "sess-1"}
	recorder := &stubRecorder{}
	g, err := New(opener, recorder)
	require.NoError(t, err)

	decision, err := g.Check(context.Background(), "agent-1", "adjust_capacity", "svc/api", map[string]any{"risk_level": "high"})
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyReview, decision.Decision)
	assert.Equal(t, "sess-1", decision.ParliamentSessionID)
	assert.True(t, opener.called)
	assert.Equal(t, "high", opener.lastRisk)
}

func TestCheck_SensitiveActionNameRequiresReview(t *testing.T) {
	opener := &stubOpener{sessionID: "sess-2"}
	g, err := New(opener, &stubRecorder{})
	require.NoError(t, err)

	decision, err := g.Check(context.Background(), "agent-1", "migrate_schema", "svc/db", nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyReview, decision.Decision)
}

func TestCheck_DefaultAllow(t *testing.T) {
	g, err := New(&stubOpener{}, &stubRecorder{})
	require.NoError(t, err)

	decision, err := g.Check(context.Background(), "agent-1", "restart_pod", "svc/api", nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyAllow, decision.Decision)
}

func TestCheck_KeywordMatchIsCaseInsensitive(t *testing.T) {
	g, err := New(&stubOpener{}, &stubRecorder{})
	require.NoError(t, err)

	require.NoError(t, g.LoadPolicy(contracts.Policy{
		Name:      "flag-secrets",
		Severity:  50,
		Action:    contracts.PolicyDeny,
		Condition: contracts.PolicyCondition{Keywords: []string{"SECRET"}},
	}))

	decision, err := g.Check(context.Background(), "agent-1", "update_config", "svc/api", map[string]any{"note": "contains a secret value"})
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyDeny, decision.Decision)
}

func TestCheck_CELConditionGatesMatch(t *testing.T) {
	g, err := New(&stubOpener{}, &stubRecorder{})
	require.NoError(t, err)

	require.NoError(t, g.LoadPolicy(contracts.Policy{
		Name:      "actor-specific-deny",
		Severity:  75,
		Action:    contracts.PolicyDeny,
		Condition: contracts.PolicyCondition{CELExpr: `actor == "untrusted-agent"`},
	}))

	decision, err := g.Check(context.Background(), "untrusted-agent", "deploy_new_version", "svc/api", nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyDeny, decision.Decision)

	decision, err = g.Check(context.Background(), "trusted-agent", "deploy_new_version", "svc/api", nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyAllow, decision.Decision)
}

func TestCheck_SeverityOrderingPicksHighestFirst(t *testing.T) {
	g, err := New(&stubOpener{}, &stubRecorder{})
	require.NoError(t, err)

	require.NoError(t, g.LoadPolicy(contracts.Policy{
		Name: "low-sev-allow", Severity: 1, Action: contracts.PolicyAllow,
		Condition: contracts.PolicyCondition{Action: "adjust_capacity"},
	}))
	require.NoError(t, g.LoadPolicy(contracts.Policy{
		Name: "high-sev-deny", Severity: 99, Action: contracts.PolicyDeny,
		Condition: contracts.PolicyCondition{Action: "adjust_capacity"},
	}))

	decision, err := g.Check(context.Background(), "agent-1", "adjust_capacity", "svc/api", nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyDeny, decision.Decision)
	assert.Contains(t, decision.Reason, "high-sev-deny")
}
