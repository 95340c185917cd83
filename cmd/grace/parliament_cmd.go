package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// runParliamentCmd implements `grace parliament <sessions|session|vote|stats>`
// per spec.md §6, grounded on the teacher's per-subcommand flag.NewFlagSet
// dispatch in cmd/helm/verify_cmd.go.
func runParliamentCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "sessions":
		return runParliamentSessions(args[1:], stdout, stderr)
	case "session":
		return runParliamentSession(args[1:], stdout, stderr)
	case "vote":
		return runParliamentVote(args[1:], stdout, stderr)
	case "stats":
		return runParliamentStats(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown parliament subcommand: %s\n", args[0])
		return 2
	}
}

func runParliamentSessions(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("parliament sessions", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	status := cmd.String("status", "", "filter by session status")
	committee := cmd.String("committee", "", "filter by committee")
	limit := cmd.Int("limit", 0, "maximum sessions to return (0 = all)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	node, err := openNode(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	sessions, err := node.Parliament.ListSessions(ctx, contracts.SessionStatus(*status), *committee, *limit)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	return printJSON(stdout, sessions)
}

func runParliamentSession(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] == "" {
		fmt.Fprintln(stderr, "Usage: grace parliament session <id>")
		return 2
	}
	ctx := context.Background()
	node, err := openNode(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	session, err := node.Parliament.GetSession(ctx, args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	return printJSON(stdout, session)
}

func runParliamentVote(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] == "" || args[0][0] == '-' {
		fmt.Fprintln(stderr, "Usage: grace parliament vote <id> --approve|--reject|--abstain [--member=] [--reason=]")
		return 2
	}
	sessionID := args[0]

	cmd := flag.NewFlagSet("parliament vote", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	approve := cmd.Bool("approve", false, "cast an approve vote")
	reject := cmd.Bool("reject", false, "cast a reject vote")
	abstain := cmd.Bool("abstain", false, "cast an abstain vote")
	member := cmd.String("member", "", "casting member id (REQUIRED)")
	reason := cmd.String("reason", "", "vote rationale")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	var choice contracts.VoteChoice
	switch {
	case *approve && !*reject && !*abstain:
		choice = contracts.VoteApprove
	case *reject && !*approve && !*abstain:
		choice = contracts.VoteReject
	case *abstain && !*approve && !*reject:
		choice = contracts.VoteAbstain
	default:
		fmt.Fprintln(stderr, "Error: exactly one of --approve, --reject, --abstain is required")
		return 2
	}
	if *member == "" {
		fmt.Fprintln(stderr, "Error: --member is required")
		return 2
	}

	ctx := context.Background()
	node, err := openNode(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	result, err := node.Parliament.CastVote(ctx, sessionID, *member, choice, *reason, false, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	return printJSON(stdout, result)
}

func runParliamentStats(args []string, stdout, stderr io.Writer) int {
	ctx := context.Background()
	node, err := openNode(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	stats, err := node.Parliament.GetStatistics(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeFor(err)
	}
	return printJSON(stdout, stats)
}

func printJSON(w io.Writer, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitCodeFor(graceerr.Validation(err.Error()))
	}
	fmt.Fprintln(w, string(data))
	return 0
}
