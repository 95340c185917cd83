// Package trigger implements the Intelligent Trigger Hub (L11): it
// subscribes to advisor and log-pattern events on the mesh and
// normalizes each into a self_heal.prediction event with a uniform
// shape, grounded on the teacher's mesh.Handler subscription pattern
// (one handler per pattern, best-effort, never blocking the router).
package trigger

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/mesh"
)

// subscribedPatterns is the closed set of mesh patterns the hub listens
// to, per spec.md §4.9.
var subscribedPatterns = []string{
	"proactive.*",
	"meta_loop.*",
	"immutable_log.pattern_detected",
	"immutable_log.anomaly_sequence",
	"cross_domain.alert",
}

// Publisher emits the normalized self_heal.prediction event.
type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

// Normalizer turns one raw mesh event into zero or one Trigger. Each
// source event type gets its own Normalizer registered by code, e.g.
// the Meta Coordinator wiring's meta_loop.directive handler.
type Normalizer func(evt contracts.Event) (contracts.Trigger, bool)

const defaultHistorySize = 256

// Hub is the Intelligent Trigger Hub.
type Hub struct {
	publisher   Publisher
	normalizers map[string]Normalizer

	mu      sync.Mutex
	history []contracts.Trigger
	cap     int
}

// New constructs a Hub with the default normalizers for every pattern
// in spec.md §4.9. Callers may register additional ones with
// RegisterNormalizer before subscribing.
func New(publisher Publisher, historySize int) *Hub {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	h := &Hub{
		publisher:   publisher,
		normalizers: map[string]Normalizer{},
		cap:         historySize,
	}
	h.RegisterNormalizer("meta_loop.directive", normalizeMetaDirective)
	h.RegisterNormalizer("immutable_log.pattern_detected", normalizeLogPattern)
	h.RegisterNormalizer("immutable_log.anomaly_sequence", normalizeAnomalySequence)
	h.RegisterNormalizer("proactive.suggestion", normalizeProactive)
	h.RegisterNormalizer("cross_domain.alert", normalizeCrossDomainAlert)
	return h
}

// RegisterNormalizer wires a Normalizer for an exact event type. A
// later call for the same type replaces the earlier one.
func (h *Hub) RegisterNormalizer(eventType string, fn Normalizer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.normalizers[eventType] = fn
}

// Subscribe registers the hub's handler against every pattern in
// spec.md §4.9 on the given mesh.
func (h *Hub) Subscribe(m *mesh.Mesh) {
	for _, pattern := range subscribedPatterns {
		m.Subscribe(pattern, h.Handle)
	}
}

// Handle is the mesh.Handler entry point: normalize the event and, if
// a Normalizer claims it, publish and record a prediction. Events with
// no registered normalizer for their exact type are dropped silently —
// the hub only reacts to shapes it understands.
func (h *Hub) Handle(ctx context.Context, evt contracts.Event) {
	h.mu.Lock()
	fn, ok := h.normalizers[evt.EventType]
	h.mu.Unlock()
	if !ok {
		return
	}
	trig, ok := fn(evt)
	if !ok {
		return
	}

	h.mu.Lock()
	h.history = append(h.history, trig)
	if len(h.history) > h.cap {
		h.history = h.history[len(h.history)-h.cap:]
	}
	h.mu.Unlock()

	if h.publisher == nil {
		return
	}
	_ = h.publisher.Publish(ctx, contracts.Event{
		EventID:   trig.Code + ":" + evt.EventID,
		EventType: "self_heal.prediction",
		Source:    "trigger_hub",
		Subsystem: "trigger_hub",
		Timestamp: trig.CreatedAt,
		Payload: map[string]any{
			"code":                trig.Code,
			"title":               trig.Title,
			"likelihood":          trig.Likelihood,
			"impact":              trig.Impact,
			"suggested_playbooks": trig.SuggestedPlaybooks,
			"reasons":             trig.Reasons,
			"source":              trig.Source,
			"metadata":            trig.Metadata,
		},
	})
}

// History returns a snapshot of the bounded ring buffer, most recent last.
func (h *Hub) History() []contracts.Trigger {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]contracts.Trigger, len(h.history))
	copy(out, h.history)
	return out
}

// Stats summarizes the current history, published on demand per
// spec.md §4.9.
type Stats struct {
	Total          int
	ByImpact       map[string]int
	AverageLikelihood float64
}

// Stats computes aggregate statistics over the current ring buffer.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{ByImpact: map[string]int{}}
	var sum float64
	for _, t := range h.history {
		stats.Total++
		stats.ByImpact[t.Impact]++
		sum += t.Likelihood
	}
	if stats.Total > 0 {
		stats.AverageLikelihood = sum / float64(stats.Total)
	}
	return stats
}

func stringsFromAny(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func normalizeMetaDirective(evt contracts.Event) (contracts.Trigger, bool) {
	focus, _ := evt.Payload["focus_area"].(string)
	if focus == "" || focus == "routine" {
		return contracts.Trigger{}, false
	}
	return contracts.Trigger{
		Code:               "meta." + focus,
		Title:              "Meta Coordinator focus: " + focus,
		Likelihood:         0.6,
		Impact:             "medium",
		SuggestedPlaybooks: stringsFromAny(evt.Payload["preferred_playbooks"]),
		Reasons:            stringsFromAny(evt.Payload["root_causes"]),
		Source:             "meta_loop",
		Metadata:           evt.Payload,
		CreatedAt:          evt.Timestamp,
	}, true
}

func normalizeLogPattern(evt contracts.Event) (contracts.Trigger, bool) {
	pattern, _ := evt.Payload["pattern"].(string)
	likelihood, _ := evt.Payload["confidence"].(float64)
	if likelihood == 0 {
		likelihood = 0.5
	}
	return contracts.Trigger{
		Code:               "log_pattern." + pattern,
		Title:              "Recurring pattern detected: " + pattern,
		Likelihood:         likelihood,
		Impact:             impactFromPayload(evt.Payload),
		SuggestedPlaybooks: stringsFromAny(evt.Payload["suggested_playbooks"]),
		Reasons:            []string{"pattern_detected:" + pattern},
		Source:             "immutable_log",
		Metadata:           evt.Payload,
		CreatedAt:          evt.Timestamp,
	}, true
}

func normalizeAnomalySequence(evt contracts.Event) (contracts.Trigger, bool) {
	sequence, _ := evt.Payload["sequence_id"].(string)
	return contracts.Trigger{
		Code:               "anomaly_sequence." + sequence,
		Title:              "Anomalous event sequence detected",
		Likelihood:         0.7,
		Impact:             impactFromPayload(evt.Payload),
		SuggestedPlaybooks: stringsFromAny(evt.Payload["suggested_playbooks"]),
		Reasons:            stringsFromAny(evt.Payload["reasons"]),
		Source:             "immutable_log",
		Metadata:           evt.Payload,
		CreatedAt:          evt.Timestamp,
	}, true
}

func normalizeProactive(evt contracts.Event) (contracts.Trigger, bool) {
	code, _ := evt.Payload["code"].(string)
	if code == "" {
		code = "proactive.suggestion"
	}
	likelihood, _ := evt.Payload["likelihood"].(float64)
	title, _ := evt.Payload["title"].(string)
	return contracts.Trigger{
		Code:               code,
		Title:              title,
		Likelihood:         likelihood,
		Impact:             impactFromPayload(evt.Payload),
		SuggestedPlaybooks: stringsFromAny(evt.Payload["suggested_playbooks"]),
		Reasons:            stringsFromAny(evt.Payload["reasons"]),
		Source:             evt.Source,
		Metadata:           evt.Payload,
		CreatedAt:          evt.Timestamp,
	}, true
}

func normalizeCrossDomainAlert(evt contracts.Event) (contracts.Trigger, bool) {
	return contracts.Trigger{
		Code:               "cross_domain." + evt.Resource,
		Title:              "Cross-domain alert from " + evt.Source,
		Likelihood:         0.65,
		Impact:             "high",
		SuggestedPlaybooks: stringsFromAny(evt.Payload["suggested_playbooks"]),
		Reasons:            []string{"cross_domain_alert"},
		Source:             evt.Source,
		Metadata:           evt.Payload,
		CreatedAt:          evt.Timestamp,
	}, true
}

func impactFromPayload(payload map[string]any) string {
	if v, ok := payload["impact"].(string); ok && v != "" {
		return v
	}
	return "medium"
}
