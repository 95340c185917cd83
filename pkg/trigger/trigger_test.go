package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/mesh"
)

type recordingPublisher struct {
	events []contracts.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{}
}

func (p *recordingPublisher) Publish(_ context.Context, evt contracts.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func TestHandle_NormalizesMetaDirective(t *testing.T) {
	pub := newRecordingPublisher()
	h := New(pub, 0)

	h.Handle(context.Background(), contracts.Event{
		EventID:   "e1",
		EventType: "meta_loop.directive",
		Timestamp: time.Unix(1, 0),
		Payload: map[string]any{
			"focus_area":          "error_spike",
			"preferred_playbooks": []string{"rollback_deployment"},
			"root_causes":         []string{"deployment_regression"},
		},
	})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "self_heal.prediction", pub.events[0].EventType)
	assert.Equal(t, "meta.error_spike", pub.events[0].Payload["code"])
	require.Len(t, h.History(), 1)
}

func TestHandle_IgnoresRoutineFocus(t *testing.T) {
	pub := newRecordingPublisher()
	h := New(pub, 0)

	h.Handle(context.Background(), contracts.Event{
		EventType: "meta_loop.directive",
		Payload:   map[string]any{"focus_area": "routine"},
	})

	assert.Empty(t, pub.events)
	assert.Empty(t, h.History())
}

func TestHandle_UnknownEventTypeDropped(t *testing.T) {
	pub := newRecordingPublisher()
	h := New(pub, 0)

	h.Handle(context.Background(), contracts.Event{EventType: "unknown.thing"})
	assert.Empty(t, pub.events)
}

func TestHistory_RingBufferBoundedToCapacity(t *testing.T) {
	h := New(nil, 2)
	for i := 0; i < 5; i++ {
		h.Handle(context.Background(), contracts.Event{
			EventType: "immutable_log.anomaly_sequence",
			Payload:   map[string]any{"sequence_id": "s"},
		})
	}
	assert.Len(t, h.History(), 2)
}

func TestStats_AggregatesImpactAndLikelihood(t *testing.T) {
	h := New(nil, 0)
	h.Handle(context.Background(), contracts.Event{
		EventType: "cross_domain.alert",
		Source:    "domain-a",
		Resource:  "svc/api",
	})
	h.Handle(context.Background(), contracts.Event{
		EventType: "cross_domain.alert",
		Source:    "domain-b",
		Resource:  "svc/queue",
	})

	stats := h.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByImpact["high"])
	assert.InDelta(t, 0.65, stats.AverageLikelihood, 0.0001)
}

func TestSubscribe_RegistersAllPatternsOnMesh(t *testing.T) {
	m := mesh.New(16, nil)
	pub := newRecordingPublisher()
	h := New(pub, 0)
	h.Subscribe(m)

	go m.Run(context.Background())
	err := m.Publish(contracts.Event{
		EventType: "meta_loop.directive",
		Payload:   map[string]any{"focus_area": "latency_drift"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.History()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRegisterNormalizer_OverridesDefault(t *testing.T) {
	h := New(nil, 0)
	h.RegisterNormalizer("meta_loop.directive", func(evt contracts.Event) (contracts.Trigger, bool) {
		return contracts.Trigger{Code: "custom"}, true
	})

	h.Handle(context.Background(), contracts.Event{EventType: "meta_loop.directive", Payload: map[string]any{"focus_area": "routine"}})
	require.Len(t, h.History(), 1)
	assert.Equal(t, "custom", h.History()[0].Code)
}
