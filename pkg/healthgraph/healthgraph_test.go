package healthgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

func mustRegister(t *testing.T, g *Graph, id string) {
	t.Helper()
	require.NoError(t, g.RegisterNode(context.Background(), contracts.HealthNode{NodeID: id, Status: contracts.HealthHealthy}))
}

func TestAddDependency_RejectsSelfLoop(t *testing.T) {
	g := New(nil)
	mustRegister(t, g, "a")
	err := g.AddDependency(context.Background(), "a", "a")
	require.Error(t, err)
	assert.True(t, graceerr.Is(err, graceerr.KindValidation))
}

func TestAddDependency_DependentsMirrorDependencies(t *testing.T) {
	g := New(nil)
	ctx := context.Background()
	mustRegister(t, g, "api")
	mustRegister(t, g, "db")

	require.NoError(t, g.AddDependency(ctx, "api", "db"))

	deps, err := g.Neighbors(ctx, "api", DirectionDependencies)
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, deps)

	dependents, err := g.Neighbors(ctx, "db", DirectionDependents)
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, dependents)
}

func TestBlastRadius_CountsTransitiveDependents(t *testing.T) {
	g := New(nil)
	ctx := context.Background()
	for _, id := range []string{"db", "cache", "api", "gateway"} {
		mustRegister(t, g, id)
	}
	// gateway -> api -> db; cache -> db
	require.NoError(t, g.AddDependency(ctx, "gateway", "api"))
	require.NoError(t, g.AddDependency(ctx, "api", "db"))
	require.NoError(t, g.AddDependency(ctx, "cache", "db"))

	radius, err := g.BlastRadius(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, 3, radius) // api, cache, gateway all transitively depend on db

	radius, err = g.BlastRadius(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 1, radius) // only gateway
}

func TestBlastRadius_InvalidatesOnEdgeChange(t *testing.T) {
	g := New(nil)
	ctx := context.Background()
	mustRegister(t, g, "api")
	mustRegister(t, g, "db")
	require.NoError(t, g.AddDependency(ctx, "api", "db"))

	radius, err := g.BlastRadius(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, 1, radius)

	require.NoError(t, g.RemoveDependency(ctx, "api", "db"))
	radius, err = g.BlastRadius(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, 0, radius)
}

func TestUpdateHealth_AppliesKPIDeltas(t *testing.T) {
	g := New(nil)
	ctx := context.Background()
	mustRegister(t, g, "api")

	node, err := g.UpdateHealth(ctx, "api", contracts.HealthDegraded, map[string]float64{"latency_ms": 120})
	require.NoError(t, err)
	assert.Equal(t, contracts.HealthDegraded, node.Status)
	assert.Equal(t, float64(120), node.KPIs["latency_ms"])

	node, err = g.UpdateHealth(ctx, "api", "", map[string]float64{"latency_ms": 30})
	require.NoError(t, err)
	assert.Equal(t, contracts.HealthDegraded, node.Status) // unchanged when status == ""
	assert.Equal(t, float64(150), node.KPIs["latency_ms"])
}

func TestDependencyChain_RespectsDepth(t *testing.T) {
	g := New(nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		mustRegister(t, g, id)
	}
	require.NoError(t, g.AddDependency(ctx, "a", "b"))
	require.NoError(t, g.AddDependency(ctx, "b", "c"))

	chain, err := g.DependencyChain(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "b", chain[0].NodeID)

	chain, err = g.DependencyChain(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}
