package planner

import (
	"context"
	"sync"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// StaticCatalog is the reference Catalog: an in-process, mutex-guarded
// playbook set loaded once at startup (e.g. from a config file or a
// future database-backed Catalog). A deployment that needs playbooks
// editable at runtime without a restart backs Catalog with its own
// store instead.
type StaticCatalog struct {
	mu        sync.RWMutex
	playbooks []contracts.Playbook
}

// NewStaticCatalog builds a catalog from a fixed playbook set.
func NewStaticCatalog(playbooks []contracts.Playbook) *StaticCatalog {
	return &StaticCatalog{playbooks: append([]contracts.Playbook{}, playbooks...)}
}

func (c *StaticCatalog) List(_ context.Context) ([]contracts.Playbook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]contracts.Playbook{}, c.playbooks...), nil
}

// Replace swaps the catalog's contents, used when an operator reloads
// playbooks without restarting the node.
func (c *StaticCatalog) Replace(playbooks []contracts.Playbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playbooks = append([]contracts.Playbook{}, playbooks...)
}

// NoTrialStats is the reference StatsProvider for a fresh deployment
// with no recorded trial history yet: every playbook reports zero
// trials, so the planner falls back to each playbook's stored
// SuccessRate unsmoothed.
type NoTrialStats struct{}

func (NoTrialStats) TrialsFor(string) (successes, failures int) { return 0, 0 }

// StaticSchemas resolves action_schema_id against a fixed, in-process
// map of raw JSON Schema documents loaded at startup.
type StaticSchemas struct {
	schemas map[string][]byte
}

// NewStaticSchemas builds a schema resolver from a name -> raw JSON
// Schema map.
func NewStaticSchemas(schemas map[string][]byte) *StaticSchemas {
	return &StaticSchemas{schemas: schemas}
}

func (s *StaticSchemas) SchemaFor(schemaID string) ([]byte, bool) {
	b, ok := s.schemas[schemaID]
	return b, ok
}
