// Package meta implements the Meta Coordinator (L10): the supervisory
// loop that decides what the rest of the system should work on next.
// Grounded on the teacher's governance.Advisor interface (Advise(ctx,
// intent, context) → evidence, Name()), generalized from a single
// governance-evidence contract into the three-advisor fan-out and
// guardrail hysteresis of spec.md §4.8.
package meta

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// Advisor is the pluggable advice contract of spec.md §4.8/§9: any rule,
// statistical model, or external service satisfying Advise is eligible.
type Advisor interface {
	Name() string
	Advise(ctx context.Context, focus contracts.FocusArea, contextData map[string]any) (contracts.AdvisorAdvice, error)
}

// Aggregates is the simple window summary the coordinator reasons over,
// per spec.md §4.8 step 2.
type Aggregates struct {
	ErrorCount               int
	BlockedCount             int
	TrustViolationCount      int
	LatencyDriftRatio        float64 // (recent avg / older avg) - 1; 0 = no drift
	CapacityStrainRatio      float64 // fraction of capacity in use, [0,1]
	DependencyUnhealthyCount int
}

// Observer computes Aggregates over the last T minutes of the
// Immutable Log and Health Graph.
type Observer interface {
	Observe(ctx context.Context, since time.Time) (Aggregates, error)
}

// OutcomeHistory reports the success rate of the last n executed plans.
type OutcomeHistory interface {
	RecentSuccessRate(n int) float64
}

// Recorder appends cycle_focus_decided to the Immutable Log.
type Recorder interface {
	RecordCycle(ctx context.Context, focus contracts.CycleFocus) error
}

// Publisher emits the signed meta_loop.directive event.
type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

const (
	errorSpikeThreshold       = 10
	latencyDriftThreshold     = 0.25
	capacityStrainThreshold   = 0.8
	guardrailTightenCeiling   = 0.5
	guardrailLoosenFloor      = 0.85
	guardrailHistoryWindow    = 10
	defaultCyclePeriod        = 2 * time.Minute
	defaultAdvisorDeadline    = 3 * time.Second
	defaultObservationWindow  = 15 * time.Minute
)

// Coordinator runs the cycle loop.
type Coordinator struct {
	observer Observer
	outcomes OutcomeHistory
	advisors []Advisor
	recorder Recorder
	publisher Publisher
	signer   crypto.Signer

	period          time.Duration
	advisorDeadline time.Duration
	window          time.Duration
	clock           func() time.Time

	mu            sync.RWMutex
	guardrail     contracts.Guardrail
	lastFocus     contracts.FocusArea
	cancel        context.CancelFunc
}

// New constructs a Coordinator with spec.md §4.8's default 2-minute
// cycle period, consulting the given advisors each cycle.
func New(observer Observer, outcomes OutcomeHistory, advisors []Advisor, recorder Recorder, publisher Publisher, signer crypto.Signer) *Coordinator {
	return &Coordinator{
		observer:        observer,
		outcomes:        outcomes,
		advisors:        advisors,
		recorder:        recorder,
		publisher:       publisher,
		signer:          signer,
		period:          defaultCyclePeriod,
		advisorDeadline: defaultAdvisorDeadline,
		window:          defaultObservationWindow,
		clock:           time.Now,
		guardrail:       contracts.GuardrailMaintain,
	}
}

// WithPeriod overrides the cycle period.
func (c *Coordinator) WithPeriod(period time.Duration) *Coordinator {
	c.period = period
	return c
}

// WithClock overrides the clock for deterministic tests.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// WithAdvisorDeadline overrides the per-advisor call deadline.
func (c *Coordinator) WithAdvisorDeadline(d time.Duration) *Coordinator {
	c.advisorDeadline = d
	return c
}

// Guardrail returns the coordinator's current guardrail level, read by
// the Planner and Enrichment pipeline to bias risk scoring.
func (c *Coordinator) Guardrail() contracts.Guardrail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guardrail
}

// LastFocus returns the focus area chosen by the most recently
// completed cycle.
func (c *Coordinator) LastFocus() contracts.FocusArea {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFocus
}

var tracer = otel.Tracer("grace/meta")

var cycleCounter, _ = otel.Meter("grace/meta").Int64Counter(
	"grace_meta_cycles_total",
	metric.WithDescription("Meta Coordinator cycles run, labeled by focus_area and guardrail"),
)

// RunCycle executes one decision cycle and returns the resulting focus.
func (c *Coordinator) RunCycle(ctx context.Context) (contracts.CycleFocus, error) {
	ctx, span := tracer.Start(ctx, "meta.cycle")
	defer span.End()

	now := c.clock()
	since := now.Add(-c.window)

	aggregates, err := c.observer.Observe(ctx, since)
	if err != nil {
		return contracts.CycleFocus{}, graceerr.Wrap(graceerr.KindNotFound, "meta: observe window", err)
	}

	focus := chooseFocus(aggregates)
	guardrail := c.chooseGuardrail()

	advice := c.fanOutAdvisors(ctx, focus, aggregates)
	recommendations, rootCauses, playbooks := mergeAdvice(advice)

	cycle := contracts.CycleFocus{
		CycleID:            uuid.New().String(),
		FocusArea:          focus,
		Reasoning:          reasoningFor(focus, aggregates),
		Confidence:         confidenceFor(advice),
		Guardrail:          guardrail,
		ExtraProbes:        recommendations,
		PlaybookPriorities: playbooks,
		TimeBudget:         c.period,
		DecidedAt:          now,
	}

	c.mu.Lock()
	c.guardrail = guardrail
	c.lastFocus = focus
	c.mu.Unlock()

	span.SetAttributes(
		attribute.String("focus_area", string(focus)),
		attribute.String("guardrail", string(guardrail)),
	)
	cycleCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("focus_area", string(focus)),
		attribute.String("guardrail", string(guardrail)),
	))

	if c.recorder != nil {
		_ = c.recorder.RecordCycle(ctx, cycle)
	}
	c.publishDirective(ctx, cycle, rootCauses)

	return cycle, nil
}

// Run starts the cycle loop on its own goroutine, firing every period
// until ctx is cancelled or Stop is called.
func (c *Coordinator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	ticker := time.NewTicker(c.period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = c.RunCycle(ctx)
			}
		}
	}()
}

// Stop ends the cycle loop started by Run.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// chooseFocus implements spec.md §4.8 step 3's fixed priority order.
func chooseFocus(a Aggregates) contracts.FocusArea {
	switch {
	case a.ErrorCount > errorSpikeThreshold:
		return contracts.FocusErrorSpike
	case a.TrustViolationCount > 0:
		return contracts.FocusTrustViolations
	case a.LatencyDriftRatio > latencyDriftThreshold:
		return contracts.FocusLatencyDrift
	case a.CapacityStrainRatio > capacityStrainThreshold:
		return contracts.FocusCapacityStrain
	case a.DependencyUnhealthyCount > 0:
		return contracts.FocusDependencyHealth
	default:
		return contracts.FocusRoutine
	}
}

// chooseGuardrail implements spec.md §4.8 step 4's hysteresis: tighten
// below 0.5 success over the last 10 outcomes, loosen above 0.85, else
// maintain. The result depends only on the current success rate, never
// on the coordinator's previous guardrail.
func (c *Coordinator) chooseGuardrail() contracts.Guardrail {
	if c.outcomes == nil {
		return contracts.GuardrailMaintain
	}
	rate := c.outcomes.RecentSuccessRate(guardrailHistoryWindow)
	switch {
	case rate < guardrailTightenCeiling:
		return contracts.GuardrailTighten
	case rate > guardrailLoosenFloor:
		return contracts.GuardrailLoosen
	default:
		return contracts.GuardrailMaintain
	}
}

// fanOutAdvisors calls every advisor concurrently with a shared
// deadline and collects whichever respond in time; the coordinator
// never blocks the cycle on a slow or hung advisor.
func (c *Coordinator) fanOutAdvisors(ctx context.Context, focus contracts.FocusArea, aggregates Aggregates) []contracts.AdvisorAdvice {
	if len(c.advisors) == 0 {
		return nil
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, c.advisorDeadline)
	defer cancel()

	contextData := map[string]any{
		"error_count":            aggregates.ErrorCount,
		"blocked_count":          aggregates.BlockedCount,
		"trust_violation_count":  aggregates.TrustViolationCount,
		"latency_drift_ratio":    aggregates.LatencyDriftRatio,
		"capacity_strain_ratio":  aggregates.CapacityStrainRatio,
		"dependency_unhealthy":   aggregates.DependencyUnhealthyCount,
	}

	results := make(chan contracts.AdvisorAdvice, len(c.advisors))
	for _, advisor := range c.advisors {
		go func(a Advisor) {
			advice, err := a.Advise(deadlineCtx, focus, contextData)
			if err != nil {
				return
			}
			select {
			case results <- advice:
			case <-deadlineCtx.Done():
			}
		}(advisor)
	}

	var collected []contracts.AdvisorAdvice
	deadline := time.After(c.advisorDeadline)
	for i := 0; i < len(c.advisors); i++ {
		select {
		case advice := <-results:
			collected = append(collected, advice)
		case <-deadline:
			return collected // remaining advisors are late; ignored
		}
	}
	return collected
}

// mergeAdvice unions and dedups recommendations/root_causes/playbook
// rankings across advisors, ordered by the contributing advisor's
// confidence descending.
func mergeAdvice(advice []contracts.AdvisorAdvice) (recommendations, rootCauses, playbooks []string) {
	sorted := append([]contracts.AdvisorAdvice{}, advice...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	seenRec := map[string]bool{}
	seenCause := map[string]bool{}
	seenPlay := map[string]bool{}
	for _, a := range sorted {
		for _, r := range a.Recommendations {
			if !seenRec[r] {
				seenRec[r] = true
				recommendations = append(recommendations, r)
			}
		}
		for _, rc := range a.RootCauses {
			if !seenCause[rc] {
				seenCause[rc] = true
				rootCauses = append(rootCauses, rc)
			}
		}
		for _, pb := range a.PlaybookRankings {
			if !seenPlay[pb] {
				seenPlay[pb] = true
				playbooks = append(playbooks, pb)
			}
		}
	}
	return recommendations, rootCauses, playbooks
}

func confidenceFor(advice []contracts.AdvisorAdvice) float64 {
	if len(advice) == 0 {
		return 0
	}
	var sum float64
	for _, a := range advice {
		sum += a.Confidence
	}
	return sum / float64(len(advice))
}

func reasoningFor(focus contracts.FocusArea, a Aggregates) string {
	return fmt.Sprintf("focus=%s errors=%d blocked=%d trust_violations=%d latency_drift=%.2f capacity_strain=%.2f unhealthy_deps=%d",
		focus, a.ErrorCount, a.BlockedCount, a.TrustViolationCount, a.LatencyDriftRatio, a.CapacityStrainRatio, a.DependencyUnhealthyCount)
}

func (c *Coordinator) publishDirective(ctx context.Context, cycle contracts.CycleFocus, rootCauses []string) {
	if c.publisher == nil {
		return
	}
	payload := map[string]any{
		"cycle_id":            cycle.CycleID,
		"focus_area":          string(cycle.FocusArea),
		"guardrail":           string(cycle.Guardrail),
		"extra_probes":        cycle.ExtraProbes,
		"preferred_playbooks": cycle.PlaybookPriorities,
		"root_causes":         rootCauses,
	}
	var signature string
	if c.signer != nil {
		if sig, err := c.signer.Sign([]byte(fmt.Sprintf("%s:%s:%s", cycle.CycleID, cycle.FocusArea, cycle.Guardrail))); err == nil {
			signature = sig
		}
	}
	payload["signature"] = signature
	_ = c.publisher.Publish(ctx, contracts.Event{
		EventID:   cycle.CycleID,
		EventType: "meta_loop.directive",
		Source:    "meta",
		Subsystem: "meta",
		Timestamp: c.clock(),
		Payload:   payload,
	})
}
