package app

import (
	"context"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/mesh"
)

// MeshPublisher adapts *mesh.Mesh's synchronous, context-free Publish
// to the context-taking Publisher contract every component other than
// Parliament depends on (Parliament's Publisher already matches the
// mesh's signature directly and needs no adapter).
type MeshPublisher struct {
	Mesh *mesh.Mesh
}

func (p MeshPublisher) Publish(ctx context.Context, evt contracts.Event) error {
	return p.Mesh.Publish(evt)
}
