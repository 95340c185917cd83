package contracts

// HealthStatus is the closed set of node health states.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// HealthNode is a monitored node in the dependency graph. Edges are
// stored separately in the graph (by node_id), never as embedded
// pointers, so the graph never develops a Go reference cycle.
type HealthNode struct {
	NodeID       string             `json:"node_id"`
	NodeType     string             `json:"node_type"`
	Name         string             `json:"name"`
	Status       HealthStatus       `json:"status"`
	KPIs         map[string]float64 `json:"kpis"`
	Dependencies map[string]bool    `json:"-"` // set<node_id>, edges owned by graph
	Dependents   map[string]bool    `json:"-"`
	BlastRadius  int                `json:"blast_radius"`
	Priority     int                `json:"priority"`
}
