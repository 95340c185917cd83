package meta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

type stubObserver struct {
	aggregates Aggregates
	err        error
}

func (o *stubObserver) Observe(_ context.Context, _ time.Time) (Aggregates, error) {
	return o.aggregates, o.err
}

type stubOutcomes struct{ rate float64 }

func (o *stubOutcomes) RecentSuccessRate(_ int) float64 { return o.rate }

// mutableOutcomes lets a test change the reported success rate between
// RunCycle calls on the same coordinator, so guardrail transitions can be
// exercised across cycles rather than only from a fresh coordinator.
type mutableOutcomes struct{ rate float64 }

func (o *mutableOutcomes) RecentSuccessRate(_ int) float64 { return o.rate }

type stubAdvisor struct {
	name    string
	advice  contracts.AdvisorAdvice
	delay   time.Duration
	err     error
}

func (a *stubAdvisor) Name() string { return a.name }

func (a *stubAdvisor) Advise(ctx context.Context, _ contracts.FocusArea, _ map[string]any) (contracts.AdvisorAdvice, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return contracts.AdvisorAdvice{}, ctx.Err()
		}
	}
	if a.err != nil {
		return contracts.AdvisorAdvice{}, a.err
	}
	return a.advice, nil
}

type recordingRecorder struct{ cycles []contracts.CycleFocus }

func (r *recordingRecorder) RecordCycle(_ context.Context, cycle contracts.CycleFocus) error {
	r.cycles = append(r.cycles, cycle)
	return nil
}

type recordingPublisher struct{ events []contracts.Event }

func (p *recordingPublisher) Publish(_ context.Context, evt contracts.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRunCycle_SelectsErrorSpikeOverEverythingElse(t *testing.T) {
	obs := &stubObserver{aggregates: Aggregates{ErrorCount: 20, TrustViolationCount: 3, CapacityStrainRatio: 0.95}}
	rec := &recordingRecorder{}
	pub := &recordingPublisher{}
	c := New(obs, &stubOutcomes{rate: 0.7}, nil, rec, pub, nil).WithClock(fixedClock(time.Unix(0, 0)))

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.FocusErrorSpike, cycle.FocusArea)
	require.Len(t, rec.cycles, 1)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "meta_loop.directive", pub.events[0].EventType)
}

func TestRunCycle_FallsBackToPriorityOrder(t *testing.T) {
	obs := &stubObserver{aggregates: Aggregates{DependencyUnhealthyCount: 1}}
	c := New(obs, &stubOutcomes{rate: 0.7}, nil, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.FocusDependencyHealth, cycle.FocusArea)
}

func TestRunCycle_RoutineWhenNothingElseFires(t *testing.T) {
	obs := &stubObserver{}
	c := New(obs, &stubOutcomes{rate: 0.7}, nil, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.FocusRoutine, cycle.FocusArea)
}

func TestRunCycle_GuardrailTightensOnLowSuccessRate(t *testing.T) {
	obs := &stubObserver{}
	c := New(obs, &stubOutcomes{rate: 0.3}, nil, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardrailTighten, cycle.Guardrail)
	assert.Equal(t, contracts.GuardrailTighten, c.Guardrail())
}

func TestRunCycle_GuardrailLoosensOnHighSuccessRate(t *testing.T) {
	obs := &stubObserver{}
	c := New(obs, &stubOutcomes{rate: 0.95}, nil, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardrailLoosen, cycle.Guardrail)
}

func TestRunCycle_GuardrailHoldsInMiddleBand(t *testing.T) {
	obs := &stubObserver{}
	c := New(obs, &stubOutcomes{rate: 0.7}, nil, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))
	assert.Equal(t, contracts.GuardrailMaintain, c.Guardrail())

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardrailMaintain, cycle.Guardrail)
}

// TestRunCycle_GuardrailDoesNotCarryForwardPriorTighten guards against
// chooseGuardrail regressing to "hold the previous level": a tighten
// cycle followed by a middle-band cycle must report maintain, not the
// stale tighten from the cycle before it (spec.md §8 scenario 6's
// tighten -> maintain -> loosen sequence).
func TestRunCycle_GuardrailDoesNotCarryForwardPriorTighten(t *testing.T) {
	obs := &stubObserver{}
	outcomes := &mutableOutcomes{rate: 0.3}
	c := New(obs, outcomes, nil, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardrailTighten, cycle.Guardrail)

	outcomes.rate = 0.7
	cycle, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardrailMaintain, cycle.Guardrail)

	outcomes.rate = 0.95
	cycle, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardrailLoosen, cycle.Guardrail)
}

func TestRunCycle_AdvisorFanOutIgnoresLateResponses(t *testing.T) {
	obs := &stubObserver{}
	fast := &stubAdvisor{name: "fast", advice: contracts.AdvisorAdvice{Source: "fast", Recommendations: []string{"probe-a"}, Confidence: 0.9}}
	slow := &stubAdvisor{name: "slow", delay: time.Second, advice: contracts.AdvisorAdvice{Source: "slow", Recommendations: []string{"probe-b"}, Confidence: 0.8}}
	c := New(obs, &stubOutcomes{rate: 0.7}, []Advisor{fast, slow}, nil, nil, nil).
		WithClock(fixedClock(time.Unix(0, 0))).
		WithAdvisorDeadline(20 * time.Millisecond)

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, cycle.ExtraProbes, "probe-a")
	assert.NotContains(t, cycle.ExtraProbes, "probe-b")
}

func TestRunCycle_MergesAndDedupsAdvisorRecommendations(t *testing.T) {
	obs := &stubObserver{}
	a := &stubAdvisor{name: "a", advice: contracts.AdvisorAdvice{Recommendations: []string{"probe-a", "probe-shared"}, Confidence: 0.9}}
	b := &stubAdvisor{name: "b", advice: contracts.AdvisorAdvice{Recommendations: []string{"probe-shared", "probe-b"}, Confidence: 0.5}}
	c := New(obs, &stubOutcomes{rate: 0.7}, []Advisor{a, b}, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))

	cycle, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"probe-a", "probe-shared", "probe-b"}, cycle.ExtraProbes)
}

func TestRunCycle_ObserverErrorPropagates(t *testing.T) {
	obs := &stubObserver{err: assertErr{}}
	c := New(obs, &stubOutcomes{rate: 0.7}, nil, nil, nil, nil).WithClock(fixedClock(time.Unix(0, 0)))

	_, err := c.RunCycle(context.Background())
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "observe failed" }
