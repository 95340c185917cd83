// Package app wires the independently-testable L1-L12 components
// together into a running Grace node, the way the teacher's
// subsystems.Services struct assembles HELM's kernel, governance, and
// runtime packages behind one constructor.
package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/ledger"
)

// LedgerRecorder is the single adapter every component's narrow
// Recorder contract is implemented against: one ledger.Ledger, one
// marshaling convention (JSON payload, component name as subsystem).
// Rather than hand-write seven near-identical recorder types, each
// component's RecordX method below is a thin field-mapping wrapper
// around the same appendEntry helper.
type LedgerRecorder struct {
	log   ledger.Ledger
	clock func() time.Time
}

// NewLedgerRecorder wraps log for every component's Recorder contract.
func NewLedgerRecorder(log ledger.Ledger) *LedgerRecorder {
	return &LedgerRecorder{log: log, clock: time.Now}
}

func (r *LedgerRecorder) appendEntry(ctx context.Context, subsystem, actor, action, resource string, result contracts.LogResult, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = r.log.Append(ctx, contracts.LogEntry{
		Timestamp: r.clock(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		Subsystem: subsystem,
		Payload:   body,
		Result:    result,
	})
	return err
}

// RecordDecision satisfies governance.Recorder.
func (r *LedgerRecorder) RecordDecision(ctx context.Context, actor, action, resource string, payload map[string]any, decision contracts.Decision) error {
	result := contracts.ResultDecided
	switch decision.Decision {
	case contracts.PolicyDeny:
		result = contracts.ResultDenied
	case contracts.PolicyReview:
		result = contracts.ResultBlocked
	}
	envelope := map[string]any{"request": payload, "decision": decision}
	return r.appendEntry(ctx, "governance", actor, action, resource, result, envelope)
}

// RecordSession satisfies parliament.Recorder.
func (r *LedgerRecorder) RecordSession(ctx context.Context, session contracts.VotingSession, action string) error {
	return r.appendEntry(ctx, "parliament", session.Actor, action, session.Resource, resultForSession(session.Status), session)
}

// RecordVote satisfies parliament.Recorder.
func (r *LedgerRecorder) RecordVote(ctx context.Context, vote contracts.Vote) error {
	return r.appendEntry(ctx, "parliament", vote.MemberID, "parliament.vote_cast", vote.SessionID, contracts.ResultSuccess, vote)
}

// Record satisfies enrichment.Recorder.
func (r *LedgerRecorder) Record(ctx context.Context, action, resource string, payload map[string]any) error {
	return r.appendEntry(ctx, "enrichment", "enrichment", action, resource, contracts.ResultSuccess, payload)
}

// RecordStep satisfies executor.Recorder.
func (r *LedgerRecorder) RecordStep(ctx context.Context, planID, stepType, status string, payload map[string]any) error {
	result := contracts.ResultSuccess
	if status == "step_failed" {
		result = contracts.ResultFailed
	}
	return r.appendEntry(ctx, "executor", "executor", stepType+"."+status, planID, result, payload)
}

// RecordOutcome satisfies executor.Recorder.
func (r *LedgerRecorder) RecordOutcome(ctx context.Context, outcome contracts.SignedOutcome) error {
	result := contracts.ResultSuccess
	if outcome.Result != "success" {
		result = contracts.ResultFailed
	}
	return r.appendEntry(ctx, "executor", "executor", "plan.outcome", outcome.PlanID, result, outcome)
}

// RecordAccess satisfies memory.Recorder.
func (r *LedgerRecorder) RecordAccess(ctx context.Context, req contracts.MemoryRequest, resp contracts.MemoryResponse) error {
	envelope := map[string]any{"request": req, "response": resp}
	return r.appendEntry(ctx, "memory", req.Actor, "memory.access", req.Domain, contracts.ResultSuccess, envelope)
}

// RecordCycle satisfies meta.Recorder.
func (r *LedgerRecorder) RecordCycle(ctx context.Context, focus contracts.CycleFocus) error {
	return r.appendEntry(ctx, "meta", "meta", "meta.cycle_focus_decided", string(focus.FocusArea), contracts.ResultDecided, focus)
}

// RecordTransition satisfies handshake.Recorder.
func (r *LedgerRecorder) RecordTransition(ctx context.Context, componentID string, state contracts.HandshakeState) error {
	return r.appendEntry(ctx, "handshake", componentID, "handshake.transition", componentID, contracts.ResultSuccess, map[string]any{"state": state})
}

func resultForSession(status contracts.SessionStatus) contracts.LogResult {
	switch status {
	case contracts.SessionApproved:
		return contracts.ResultSuccess
	case contracts.SessionRejected, contracts.SessionExpired:
		return contracts.ResultDenied
	default:
		return contracts.ResultQueued
	}
}
