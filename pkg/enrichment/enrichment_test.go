package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

type stubHealth struct {
	node  contracts.HealthNode
	found bool
	chain []contracts.HealthNode
}

func (h *stubHealth) Get(_ context.Context, nodeID string) (contracts.HealthNode, bool, error) {
	return h.node, h.found, nil
}

func (h *stubHealth) DependencyChain(_ context.Context, nodeID string, depth int) ([]contracts.HealthNode, error) {
	return h.chain, nil
}

type stubMemory struct {
	count int
}

func (m *stubMemory) RequestMemory(_ context.Context, _ contracts.MemoryRequest) (contracts.MemoryResponse, error) {
	entries := make([]contracts.MemoryEntry, m.count)
	return contracts.MemoryResponse{Memories: entries, TotalCount: m.count}, nil
}

type stubTrust struct{ trust float64 }

func (t *stubTrust) TrustOf(_ context.Context, _ string) float64 { return t.trust }

type recordingRecorder struct {
	actions []string
}

func (r *recordingRecorder) Record(_ context.Context, action, resource string, payload map[string]any) error {
	r.actions = append(r.actions, action)
	return nil
}

func TestEnrich_IntentInference(t *testing.T) {
	cases := map[string]contracts.Intent{
		"deploy.started":   contracts.IntentDeployNewVersion,
		"scale.out":        contracts.IntentAdjustCapacity,
		"alert.fired":      contracts.IntentSignalDegradation,
		"incident.opened":  contracts.IntentSignalDegradation,
		"config.changed":   contracts.IntentUnknown,
	}
	for eventType, want := range cases {
		p := New(&stubHealth{}, &stubMemory{count: 5}, &stubTrust{trust: 1}, nil, nil, 0)
		evt := contracts.Event{EventID: "e1", EventType: eventType, Source: "svc", Timestamp: time.Now()}
		got, err := p.Enrich(context.Background(), evt)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got.Intent)
	}
}

func TestEnrich_LowConfidenceDropped(t *testing.T) {
	rec := &recordingRecorder{}
	p := New(&stubHealth{}, &stubMemory{count: 0}, &stubTrust{trust: 0}, rec, nil, 0)
	evt := contracts.Event{EventID: "e1", EventType: "alert.fired", Source: "svc", Timestamp: time.Now()}
	got, err := p.Enrich(context.Background(), evt)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Contains(t, rec.actions, "low_confidence")
}

func TestEnrich_ConfidenceBoundary(t *testing.T) {
	// trust=1 with no corroborating memories and no KPI deviation scores
	// exactly 0.4, right at the floor; the drop check is strict (< 0.4),
	// so the event is kept.
	p := New(&stubHealth{}, &stubMemory{count: 0}, &stubTrust{trust: 1}, nil, nil, 0)
	evt := contracts.Event{EventID: "e1", EventType: "deploy.started", Source: "svc", Timestamp: time.Now()}
	got, err := p.Enrich(context.Background(), evt)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.4, got.Confidence, 1e-9)
}

func TestEnrich_RiskReflectsNodeState(t *testing.T) {
	node := contracts.HealthNode{NodeID: "n1", Status: contracts.HealthCritical, Priority: 10, BlastRadius: 20}
	p := New(&stubHealth{node: node, found: true}, &stubMemory{count: 5}, &stubTrust{trust: 1}, nil, nil, 0)
	evt := contracts.Event{EventID: "e1", EventType: "incident.detected", Source: "svc", Resource: "n1", Timestamp: time.Now()}
	got, err := p.Enrich(context.Background(), evt)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 1.0, got.Risk, 1e-9)
}

func TestEnrich_GuardrailBiasScalesRisk(t *testing.T) {
	node := contracts.HealthNode{NodeID: "n1", Status: contracts.HealthDegraded, Priority: 5, BlastRadius: 5}
	p := New(&stubHealth{node: node, found: true}, &stubMemory{count: 5}, &stubTrust{trust: 1}, nil, nil, 0)
	evt := contracts.Event{EventID: "e1", EventType: "alert.fired", Source: "svc", Resource: "n1", Timestamp: time.Now()}

	loose, err := p.Enrich(context.Background(), evt)
	require.NoError(t, err)

	p.SetGuardrailBias(2.0)
	tight, err := p.Enrich(context.Background(), evt)
	require.NoError(t, err)

	assert.Greater(t, tight.Risk, loose.Risk)
}

func TestEnrich_SignerIdentityDefaultsToSource(t *testing.T) {
	p := New(&stubHealth{}, &stubMemory{count: 5}, &stubTrust{trust: 1}, nil, nil, 0)
	evt := contracts.Event{EventID: "e1", EventType: "deploy.started", Source: "svc-a", Timestamp: time.Now()}
	got, err := p.Enrich(context.Background(), evt)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "svc-a", got.SignerIdentity)
}
