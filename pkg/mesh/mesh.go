// Package mesh implements the Event Mesh (L1): an in-process pub/sub
// fabric with wildcard pattern subscriptions, best-effort delivery, and
// a bounded queue. One cooperative router goroutine drains the queue
// and dispatches to matching handlers; a handler panic or error is
// isolated and never stops the router.
package mesh

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// Handler processes one delivered event. Handlers must not perform
// synchronous I/O that could stall the router for long; use safeio for
// any best-effort side channel.
type Handler func(ctx context.Context, evt contracts.Event)

// Subscription is the handle returned by Subscribe, used to Unsubscribe.
type Subscription struct {
	id      string
	pattern string
}

type subscriber struct {
	id      string
	pattern string
	handler Handler
}

// Sink receives every published event for durable fan-out, e.g. the
// Immutable Log writer. Sink failures never block delivery.
type Sink interface {
	Record(ctx context.Context, evt contracts.Event)
}

// Mesh is the Event Mesh. Construct with New; call Run in its own
// goroutine before publishing.
type Mesh struct {
	queue   chan contracts.Event
	depth   int
	mu      sync.RWMutex
	subs    []*subscriber
	sink    Sink
	closed  atomic.Bool
	dropped atomic.Int64
}

// New creates a Mesh with a bounded queue of the given depth. When the
// queue is full, Publish fails with BackpressureFull (reject policy,
// the core default per spec.md §4.1) rather than silently dropping.
func New(queueDepth int, sink Sink) *Mesh {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	return &Mesh{
		queue: make(chan contracts.Event, queueDepth),
		depth: queueDepth,
		sink:  sink,
	}
}

// Subscribe registers handler for pattern. Patterns may be an exact
// dotted path ("health.degraded"), a prefix wildcard ("health.*"), or
// the universal wildcard ("*"). Subscribe is idempotent in the sense
// that each call returns a fresh handle; duplicate patterns are allowed
// and all matching handlers run.
func (m *Mesh) Subscribe(pattern string, handler Handler) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &subscriber{id: uuid.New().String(), pattern: pattern, handler: handler}
	m.subs = append(m.subs, sub)
	return &Subscription{id: sub.id, pattern: pattern}
}

// Unsubscribe removes a previously returned subscription.
func (m *Mesh) Unsubscribe(h *Subscription) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == h.id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Publish appends evt to the bounded queue. It never performs
// synchronous I/O itself; fan-out to the Sink happens on the router
// goroutine, asynchronously from the caller's perspective.
func (m *Mesh) Publish(evt contracts.Event) error {
	if m.closed.Load() {
		return graceerr.Shutdown("mesh: publish after shutdown")
	}
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}

	select {
	case m.queue <- evt:
		return nil
	default:
		m.dropped.Add(1)
		return graceerr.Backpressure(
			"mesh: queue saturated at depth " + itoa(m.depth))
	}
}

// Run drains the queue until ctx is cancelled. Call this exactly once,
// in its own goroutine, before any Publish call that must be observed.
func (m *Mesh) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-m.queue:
			if !ok {
				return
			}
			m.dispatch(ctx, evt)
		}
	}
}

// Shutdown stops new publishes. Callers should then drain remaining
// in-flight events before cancelling the Run context, per spec.md §5's
// documented shutdown order (stop intake, drain routers, ...).
func (m *Mesh) Shutdown() {
	m.closed.Store(true)
}

// Dropped returns the number of events rejected due to backpressure.
func (m *Mesh) Dropped() int64 { return m.dropped.Load() }

func (m *Mesh) dispatch(ctx context.Context, evt contracts.Event) {
	if m.sink != nil {
		func() {
			defer recoverLog("mesh: sink fan-out")
			m.sink.Record(ctx, evt)
		}()
	}

	m.mu.RLock()
	matches := make([]*subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		if Matches(s.pattern, evt.EventType) {
			matches = append(matches, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range matches {
		func(sub *subscriber) {
			defer recoverLog("mesh: handler panic for pattern " + sub.pattern)
			sub.handler(ctx, evt)
		}(s)
	}
}

func recoverLog(context string) {
	if r := recover(); r != nil {
		slog.Error("mesh: isolated handler failure", "context", context, "panic", r)
	}
}

// Matches reports whether eventType matches pattern: exact, "a.b.*"
// prefix, or the universal "*".
func Matches(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
