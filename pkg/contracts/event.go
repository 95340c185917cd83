// Package contracts defines the value-like records shared across every
// Grace component: events, log entries, policies, sessions, votes,
// health nodes, playbooks, plans and memory entries.
package contracts

import "time"

// Event is an immutable signal published on the Event Mesh.
type Event struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"` // dotted path, e.g. "health.degraded"
	Source    string            `json:"source"`
	Actor     string            `json:"actor"`
	Resource  string            `json:"resource"`
	Payload   map[string]any    `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	Subsystem string            `json:"subsystem"`
	Labels    map[string]string `json:"labels,omitempty"`
}
