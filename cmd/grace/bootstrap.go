package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mindburn-labs/grace/pkg/app"
	"github.com/mindburn-labs/grace/pkg/config"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// openNode builds a Node against the same storage the server uses
// (Lite Mode SQLite/in-process unless GRACE_DATABASE_URL/GRACE_REDIS_ADDR
// are set), without starting its background mesh/meta loops. CLI
// subcommands only need the read/decide surfaces of the already-wired
// components.
func openNode(ctx context.Context) (*app.Node, error) {
	cfg := config.Load()
	node, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("grace: open node: %w", err)
	}
	return node, nil
}

// exitCodeFor maps the closed graceerr taxonomy to spec.md §6 exit
// codes: 2 validation, 3 authorization failure, 4 not found, 5 chain
// broken, 1 otherwise.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ge *graceerr.Error
	if errors.As(err, &ge) {
		switch ge.Kind {
		case graceerr.KindValidation:
			return 2
		case graceerr.KindUnauthorized, graceerr.KindPolicyDenied:
			return 3
		case graceerr.KindNotFound:
			return 4
		case graceerr.KindChainBroken:
			return 5
		}
	}
	return 1
}
