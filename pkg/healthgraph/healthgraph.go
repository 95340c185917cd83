// Package healthgraph implements the Health Graph (L5): the dependency
// graph of monitored nodes, their KPIs, and status transitions. Grounded
// on spec.md §9's "arena + identifier" re-architecture of the source's
// cyclic node/plan references: nodes are value records keyed by
// node_id, and edges live in a separate adjacency index owned by the
// Graph, never as embedded Go pointers between nodes.
package healthgraph

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// BlastCache invalidates and recomputes the cached blast radius for a
// node. The in-process map implementation is always available; a
// go-redis-backed implementation may replace it for a multi-instance
// deployment, per SPEC_FULL.md's "cache is a go-redis client when
// configured, else an in-process map."
type BlastCache interface {
	Get(nodeID string) (int, bool)
	Set(nodeID string, radius int)
	Invalidate(nodeID string)
	InvalidateAll()
}

// InProcessBlastCache is the default BlastCache.
type InProcessBlastCache struct {
	mu    sync.RWMutex
	cache map[string]int
}

// NewInProcessBlastCache constructs an empty cache.
func NewInProcessBlastCache() *InProcessBlastCache {
	return &InProcessBlastCache{cache: make(map[string]int)}
}

func (c *InProcessBlastCache) Get(nodeID string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[nodeID]
	return v, ok
}

func (c *InProcessBlastCache) Set(nodeID string, radius int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[nodeID] = radius
}

func (c *InProcessBlastCache) Invalidate(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, nodeID)
}

func (c *InProcessBlastCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]int)
}

// Direction selects which edge set Neighbors walks.
type Direction string

const (
	DirectionDependencies Direction = "dependencies"
	DirectionDependents   Direction = "dependents"
)

// record is the Graph's internal node representation: the node's own
// fields plus its edge sets, which Graph never exposes as pointers.
type record struct {
	node         contracts.HealthNode
	dependencies map[string]bool
	dependents   map[string]bool
}

// Graph is the Health Graph: single-writer, many-reader, per spec.md §5.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*record
	cache BlastCache
}

// New constructs an empty Graph using cache for blast-radius memoization.
func New(cache BlastCache) *Graph {
	if cache == nil {
		cache = NewInProcessBlastCache()
	}
	return &Graph{nodes: make(map[string]*record), cache: cache}
}

// RegisterNode adds node to the graph (or replaces its scalar fields if
// already present; dependency edges are untouched here — use
// AddDependency/RemoveDependency to mutate the graph's shape).
func (g *Graph) RegisterNode(ctx context.Context, node contracts.HealthNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.nodes[node.NodeID]
	if !ok {
		r = &record{dependencies: make(map[string]bool), dependents: make(map[string]bool)}
		g.nodes[node.NodeID] = r
	}
	node.Dependencies = nil
	node.Dependents = nil
	r.node = node
	return nil
}

// AddDependency records that `from` depends on `to`: dependents(to)
// gains `from` and dependencies(from) gains `to`. Self-loops are
// rejected per spec.md §3's HealthNode invariant.
func (g *Graph) AddDependency(ctx context.Context, from, to string) error {
	if from == to {
		return graceerr.Validation("healthgraph: self-loop not allowed for node " + from)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	fr, ok := g.nodes[from]
	if !ok {
		return graceerr.NotFound("healthgraph: node " + from + " not registered")
	}
	tr, ok := g.nodes[to]
	if !ok {
		return graceerr.NotFound("healthgraph: node " + to + " not registered")
	}
	fr.dependencies[to] = true
	tr.dependents[from] = true
	g.cache.InvalidateAll() // any edge change may shift transitive blast radii
	return nil
}

// RemoveDependency undoes AddDependency.
func (g *Graph) RemoveDependency(ctx context.Context, from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fr, ok := g.nodes[from]
	if !ok {
		return graceerr.NotFound("healthgraph: node " + from + " not registered")
	}
	tr, ok := g.nodes[to]
	if !ok {
		return graceerr.NotFound("healthgraph: node " + to + " not registered")
	}
	delete(fr.dependencies, to)
	delete(tr.dependents, from)
	g.cache.InvalidateAll()
	return nil
}

// UpdateHealth applies a new status and KPI deltas to node_id.
func (g *Graph) UpdateHealth(ctx context.Context, nodeID string, status contracts.HealthStatus, kpiDeltas map[string]float64) (contracts.HealthNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.nodes[nodeID]
	if !ok {
		return contracts.HealthNode{}, graceerr.NotFound("healthgraph: node " + nodeID + " not registered")
	}
	if status != "" {
		r.node.Status = status
	}
	if r.node.KPIs == nil {
		r.node.KPIs = make(map[string]float64)
	}
	for k, delta := range kpiDeltas {
		r.node.KPIs[k] += delta
	}
	return g.snapshot(r), nil
}

// Get returns a snapshot of one node, with its current edges populated.
func (g *Graph) Get(ctx context.Context, nodeID string) (contracts.HealthNode, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.nodes[nodeID]
	if !ok {
		return contracts.HealthNode{}, false, nil
	}
	return g.snapshot(r), true, nil
}

func (g *Graph) snapshot(r *record) contracts.HealthNode {
	n := r.node
	n.Dependencies = cloneSet(r.dependencies)
	n.Dependents = cloneSet(r.dependents)
	n.BlastRadius = g.blastRadiusLocked(n.NodeID)
	return n
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// Neighbors returns the immediate node_ids in the given direction.
func (g *Graph) Neighbors(ctx context.Context, nodeID string, direction Direction) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.nodes[nodeID]
	if !ok {
		return nil, graceerr.NotFound("healthgraph: node " + nodeID + " not registered")
	}
	edges := r.dependencies
	if direction == DirectionDependents {
		edges = r.dependents
	}
	out := make([]string, 0, len(edges))
	for id := range edges {
		out = append(out, id)
	}
	return out, nil
}

// BlastRadius returns the count of transitive dependents of nodeID,
// serving the cached value when present.
func (g *Graph) BlastRadius(ctx context.Context, nodeID string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[nodeID]; !ok {
		return 0, graceerr.NotFound("healthgraph: node " + nodeID + " not registered")
	}
	return g.blastRadiusLocked(nodeID), nil
}

// blastRadiusLocked must be called with g.mu held (read or write).
func (g *Graph) blastRadiusLocked(nodeID string) int {
	if cached, ok := g.cache.Get(nodeID); ok {
		return cached
	}
	visited := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		r, ok := g.nodes[id]
		if !ok {
			return
		}
		for dep := range r.dependents {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			walk(dep)
		}
	}
	walk(nodeID)
	radius := len(visited)
	g.cache.Set(nodeID, radius)
	return radius
}

// DependencyChain walks up to depth levels of dependencies from nodeID,
// breadth-first, for the Enrichment pipeline's context pull (spec.md
// §4.5 step 2).
func (g *Graph) DependencyChain(ctx context.Context, nodeID string, depth int) ([]contracts.HealthNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[nodeID]; !ok {
		return nil, graceerr.NotFound("healthgraph: node " + nodeID + " not registered")
	}

	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	var out []contracts.HealthNode

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			r, ok := g.nodes[id]
			if !ok {
				continue
			}
			for dep := range r.dependencies {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				next = append(next, dep)
				out = append(out, g.snapshot(g.nodes[dep]))
			}
		}
		frontier = next
	}
	return out, nil
}

// All returns a snapshot of every registered node.
func (g *Graph) All(ctx context.Context) ([]contracts.HealthNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]contracts.HealthNode, 0, len(g.nodes))
	for _, r := range g.nodes {
		out = append(out, g.snapshot(r))
	}
	return out, nil
}
