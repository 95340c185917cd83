package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

// runMetaCmd implements `grace meta cycles [--last=N]`: reads the
// Immutable Log's cycle_focus_decided entries and reports the most
// recent N decisions the Meta Coordinator made, per spec.md §4.8 and §6.
func runMetaCmd(args []string, stdout, stderr io.Writer) int {
	if args[0] != "cycles" {
		fmt.Fprintf(stderr, "Unknown meta subcommand: %s\n", args[0])
		return 2
	}

	cmd := flag.NewFlagSet("meta cycles", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	last := cmd.Int("last", 10, "number of most recent cycles to show")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	ctx := context.Background()
	node, err := openNode(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	entries, err := node.Ledger.Read(ctx, contracts.LogFilter{Action: "meta.cycle_focus_decided"})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}

	if *last > 0 && len(entries) > *last {
		entries = entries[len(entries)-*last:]
	}

	cycles := make([]contracts.CycleFocus, 0, len(entries))
	for _, e := range entries {
		var focus contracts.CycleFocus
		if err := json.Unmarshal(e.Payload, &focus); err != nil {
			continue
		}
		cycles = append(cycles, focus)
	}
	return printJSON(stdout, cycles)
}
