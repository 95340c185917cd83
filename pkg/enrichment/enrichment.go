// Package enrichment implements the Enrichment pipeline (L6): it turns a
// raw Event into an EnrichedEvent carrying inferred intent, a
// confidence score, and a risk score, pulling context from the Health
// Graph and recent episodic memory along the way. Grounded on spec.md
// §4.5's five-step pipeline.
package enrichment

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// HealthSource is the read-view the pipeline pulls node and dependency
// context from; satisfied by *healthgraph.Graph.
type HealthSource interface {
	Get(ctx context.Context, nodeID string) (contracts.HealthNode, bool, error)
	DependencyChain(ctx context.Context, nodeID string, depth int) ([]contracts.HealthNode, error)
}

// MemorySource is the read-view the pipeline pulls recent episodic
// memory from; satisfied by *memory.Broker.
type MemorySource interface {
	RequestMemory(ctx context.Context, req contracts.MemoryRequest) (contracts.MemoryResponse, error)
}

// SourceTrust resolves the reported trust score in [0,1] for an event
// source, used in the confidence formula.
type SourceTrust interface {
	TrustOf(ctx context.Context, source string) float64
}

// Recorder appends a dropped-event or enrichment decision to the log.
type Recorder interface {
	Record(ctx context.Context, action, resource string, payload map[string]any) error
}

// Publisher emits enriched events onward on the mesh.
type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

// confidenceFloor is spec.md §4.5's drop threshold: events scored below
// this are dropped as low_confidence rather than handed to the Planner.
const confidenceFloor = 0.4

// intentPrefixes is the closed set of event_type prefix → intent
// mappings of spec.md §4.5 step 3, checked in order.
var intentPrefixes = []struct {
	prefix string
	intent contracts.Intent
}{
	{"deploy", contracts.IntentDeployNewVersion},
	{"scale", contracts.IntentAdjustCapacity},
	{"alert", contracts.IntentSignalDegradation},
	{"incident", contracts.IntentSignalDegradation},
}

// Pipeline is the Enrichment component.
type Pipeline struct {
	health HealthSource
	memory MemorySource
	trust  SourceTrust

	recorder  Recorder
	publisher Publisher

	dependencyDepth int
	clock           func() time.Time

	guardrailBias atomic.Value // float64, multiplicative risk factor
}

// New constructs a Pipeline. dependencyDepth is the depth `d` of §4.5
// step 2's dependency-chain pull; 0 defaults to 2.
func New(health HealthSource, memory MemorySource, trust SourceTrust, recorder Recorder, publisher Publisher, dependencyDepth int) *Pipeline {
	if dependencyDepth <= 0 {
		dependencyDepth = 2
	}
	p := &Pipeline{
		health:          health,
		memory:          memory,
		trust:           trust,
		recorder:        recorder,
		publisher:       publisher,
		dependencyDepth: dependencyDepth,
		clock:           time.Now,
	}
	p.guardrailBias.Store(1.0)
	return p
}

// WithClock overrides the clock for deterministic recency scoring.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// SetGuardrailBias records the Meta Coordinator's latest risk bias
// factor: > 1 tightens (biases risk upward), < 1 loosens. Clamped to
// [0.5, 2.0] so a misbehaving coordinator can't zero out or saturate
// risk scoring.
func (p *Pipeline) SetGuardrailBias(factor float64) {
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 2.0 {
		factor = 2.0
	}
	p.guardrailBias.Store(factor)
}

func (p *Pipeline) guardrailBiasValue() float64 {
	return p.guardrailBias.Load().(float64)
}

// Enrich runs the full pipeline on evt. A nil result with no error
// means the event was dropped as low_confidence.
func (p *Pipeline) Enrich(ctx context.Context, evt contracts.Event) (*contracts.EnrichedEvent, error) {
	signerIdentity := evt.Actor
	if signerIdentity == "" {
		signerIdentity = evt.Source
	}

	enrichedContext := map[string]any{}
	var node contracts.HealthNode
	var nodeFound bool
	if p.health != nil && evt.Resource != "" {
		n, ok, err := p.health.Get(ctx, evt.Resource)
		if err != nil {
			return nil, graceerr.Wrap(graceerr.KindNotFound, "enrichment: health lookup", err)
		}
		if ok {
			node = n
			nodeFound = true
			enrichedContext["node_status"] = string(n.Status)
			enrichedContext["node_priority"] = n.Priority
			enrichedContext["blast_radius"] = n.BlastRadius

			chain, err := p.health.DependencyChain(ctx, evt.Resource, p.dependencyDepth)
			if err == nil {
				ids := make([]string, 0, len(chain))
				for _, c := range chain {
					ids = append(ids, c.NodeID)
				}
				enrichedContext["dependency_chain"] = ids
			}
		}
	}

	var corroborating int
	if p.memory != nil {
		resp, err := p.memory.RequestMemory(ctx, contracts.MemoryRequest{
			Domain:     evt.Subsystem,
			MemoryType: contracts.MemoryEpisodic,
			Tags:       []string{evt.EventType},
			Actor:      signerIdentity,
			Limit:      20,
		})
		if err == nil {
			corroborating = len(resp.Memories)
			enrichedContext["recent_episodic_count"] = corroborating
		}
	}

	intent := inferIntent(evt.EventType)

	trust := 1.0
	if p.trust != nil {
		trust = p.trust.TrustOf(ctx, evt.Source)
	}

	kpiDeviation := kpiDeviation(node, evt.Payload)
	confidence := scoreConfidence(corroborating, trust, kpiDeviation)

	risk := scoreRisk(node, nodeFound, evt.EventType, p.guardrailBiasValue())

	enriched := &contracts.EnrichedEvent{
		EventID:        uuid.New().String(),
		Original:       evt,
		SignerIdentity: signerIdentity,
		Intent:         intent,
		Context:        enrichedContext,
		Confidence:     confidence,
		Risk:           risk,
	}

	if confidence < confidenceFloor {
		p.recordDrop(ctx, evt, confidence)
		return nil, nil
	}

	enriched.ExpectedOutcome = expectedOutcome(intent)

	if p.publisher != nil {
		_ = p.publisher.Publish(ctx, contracts.Event{
			EventID:   enriched.EventID,
			EventType: "health.enriched",
			Source:    "enrichment",
			Actor:     signerIdentity,
			Resource:  evt.Resource,
			Subsystem: evt.Subsystem,
			Timestamp: p.clock(),
			Payload: map[string]any{
				"intent":     string(intent),
				"confidence": confidence,
				"risk":       risk,
			},
		})
	}

	return enriched, nil
}

func (p *Pipeline) recordDrop(ctx context.Context, evt contracts.Event, confidence float64) {
	if p.recorder == nil {
		return
	}
	_ = p.recorder.Record(ctx, "low_confidence", evt.Resource, map[string]any{
		"event_id":   evt.EventID,
		"event_type": evt.EventType,
		"confidence": confidence,
	})
}

// inferIntent implements spec.md §4.5 step 3's closed prefix map.
func inferIntent(eventType string) contracts.Intent {
	lower := strings.ToLower(eventType)
	for _, m := range intentPrefixes {
		if strings.HasPrefix(lower, m.prefix) {
			return m.intent
		}
	}
	return contracts.IntentUnknown
}

func expectedOutcome(intent contracts.Intent) string {
	switch intent {
	case contracts.IntentDeployNewVersion:
		return "new version serving healthy traffic"
	case contracts.IntentAdjustCapacity:
		return "capacity matches demand within target KPIs"
	case contracts.IntentSignalDegradation:
		return "degradation contained and node returns to healthy"
	default:
		return "no predicted outcome"
	}
}

// scoreConfidence is a monotonic function of corroborating recent
// events, source trust, and KPI deviation, each normalized into [0,1]
// and weighted, per spec.md §4.5 step 4.
func scoreConfidence(corroborating int, trust float64, kpiDeviation float64) float64 {
	corrobScore := float64(corroborating) / 10.0
	if corrobScore > 1 {
		corrobScore = 1
	}
	if trust < 0 {
		trust = 0
	}
	if trust > 1 {
		trust = 1
	}
	if kpiDeviation > 1 {
		kpiDeviation = 1
	}
	if kpiDeviation < 0 {
		kpiDeviation = 0
	}
	score := 0.3*corrobScore + 0.4*trust + 0.3*kpiDeviation
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// baseRiskWeight is the fixed per-event_type base weight of spec.md
// §4.5 step 5, keyed on the same closed prefix set as intent inference.
func baseRiskWeight(eventType string) float64 {
	lower := strings.ToLower(eventType)
	switch {
	case strings.HasPrefix(lower, "incident"):
		return 0.7
	case strings.HasPrefix(lower, "alert"):
		return 0.5
	case strings.HasPrefix(lower, "deploy"):
		return 0.4
	case strings.HasPrefix(lower, "scale"):
		return 0.3
	default:
		return 0.2
	}
}

// scoreRisk implements spec.md §4.5 step 5: node priority, blast
// radius, and status combine with the event_type's base weight, then
// the guardrail bias multiplies the result within [0,1].
func scoreRisk(node contracts.HealthNode, nodeFound bool, eventType string, guardrailBias float64) float64 {
	base := baseRiskWeight(eventType)

	statusFactor := 0.0
	priorityFactor := 0.0
	blastFactor := 0.0
	if nodeFound {
		switch node.Status {
		case contracts.HealthCritical:
			statusFactor = 1.0
		case contracts.HealthDegraded:
			statusFactor = 0.6
		case contracts.HealthUnknown:
			statusFactor = 0.3
		default:
			statusFactor = 0.0
		}
		priorityFactor = float64(node.Priority) / 10.0
		if priorityFactor > 1 {
			priorityFactor = 1
		}
		blastFactor = float64(node.BlastRadius) / 20.0
		if blastFactor > 1 {
			blastFactor = 1
		}
	}

	raw := base + 0.3*statusFactor + 0.2*priorityFactor + 0.2*blastFactor
	risk := raw * guardrailBias
	if risk > 1 {
		risk = 1
	}
	if risk < 0 {
		risk = 0
	}
	return risk
}

// kpiDeviation is a crude normalized measure of how far the event's
// numeric payload fields sit from the affected node's current KPI
// values: larger relative deviation corroborates the event's claim.
func kpiDeviation(node contracts.HealthNode, payload map[string]any) float64 {
	if len(node.KPIs) == 0 || len(payload) == 0 {
		return 0
	}
	var maxDeviation float64
	for k, current := range node.KPIs {
		raw, ok := payload[k]
		if !ok {
			continue
		}
		reported, ok := toFloat(raw)
		if !ok {
			continue
		}
		if current == 0 {
			continue
		}
		deviation := (reported - current) / current
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > maxDeviation {
			maxDeviation = deviation
		}
	}
	return maxDeviation
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
