// Package executor implements the Playbook Executor (L9): it drives a
// RecoveryPlan's steps through an external action adapter, verifies
// each step's effect, and rolls back best-effort on failure. Grounded
// on the teacher's executor.SafeExecutor — its fail-closed gating
// (idempotency, signature verification, dispatch, receipt signing)
// generalizes here into the step state machine of spec.md §4.6, with
// the decision/intent signature checks replaced by the plan's own
// approval state and the receipt replaced by a signed outcome record.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// AdapterResult is the shape every External Action Adapter returns,
// per spec.md §6: never a bare error, always an explicit ok/retryable.
type AdapterResult struct {
	OK        bool
	Data      map[string]any
	Error     string
	Retryable bool
}

// Adapter dispatches one ActionRecord. Implementations (S3, GCS,
// notification, or a domain-specific driver) satisfy this directly.
type Adapter interface {
	Execute(ctx context.Context, action contracts.ActionRecord) (AdapterResult, error)
}

// Recorder appends step and outcome entries to the Immutable Log.
type Recorder interface {
	RecordStep(ctx context.Context, planID, stepType, status string, payload map[string]any) error
	RecordOutcome(ctx context.Context, outcome contracts.SignedOutcome) error
}

// Publisher emits plan.executed (and plan.rollback_failed) onto the mesh.
type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

// Escalator opens a critical Parliament session when rollback itself
// fails, per spec.md §4.6's tie-break list.
type Escalator interface {
	EscalateCritical(ctx context.Context, reason string, payload map[string]any) (string, error)
}

// WASMVerifier runs a playbook's optional compiled WASM verification
// predicate (VerificationWASM) against a step's adapter result, under
// wazero, when no CEL Predicate is configured for that step.
type WASMVerifier interface {
	Verify(ctx context.Context, module []byte, result AdapterResult) (bool, error)
}

// defaultBackoffBase is the first retry's backoff; each subsequent
// attempt doubles it, capped by the playbook's RetryBackoffCap steps.
const defaultBackoffBase = 200 * time.Millisecond

// Executor runs recovery plans to completion.
type Executor struct {
	mu       sync.Mutex
	locked   map[string]string // node_id -> plan_id currently executing
	adapters map[string]Adapter

	recorder  Recorder
	publisher Publisher
	escalator Escalator
	wasm      WASMVerifier
	signer    crypto.Signer
	identity  string

	clock func() time.Time
	sleep func(time.Duration)
}

// New constructs an Executor. identity names the signing identity
// attached to every SignedOutcome.
func New(adapters map[string]Adapter, recorder Recorder, publisher Publisher, escalator Escalator, signer crypto.Signer, identity string) *Executor {
	return &Executor{
		locked:    make(map[string]string),
		adapters:  adapters,
		recorder:  recorder,
		publisher: publisher,
		escalator: escalator,
		signer:    signer,
		identity:  identity,
		clock:     time.Now,
		sleep:     time.Sleep,
	}
}

// WithClock overrides the clock for deterministic duration assertions.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// WithSleep overrides the backoff sleep function; tests pass a no-op.
func (e *Executor) WithSleep(sleep func(time.Duration)) *Executor {
	e.sleep = sleep
	return e
}

// WithWASMVerifier attaches a wazero-backed verifier used for steps
// whose playbook declares VerificationWASM but no CEL Predicate.
func (e *Executor) WithWASMVerifier(wasm WASMVerifier) *Executor {
	e.wasm = wasm
	return e
}

// Execute drives plan from approved through to a terminal state. If any
// target node is already locked by a different in-flight plan, this
// returns the plan with Status=queued rather than executing, per
// spec.md §4.6's overlapping-target-nodes tie-break; the caller is
// responsible for resubmitting a queued plan once the lock clears.
func (e *Executor) Execute(ctx context.Context, plan contracts.RecoveryPlan) (contracts.RecoveryPlan, error) {
	if !e.tryLock(plan) {
		plan.Status = contracts.PlanQueued
		return plan, nil
	}
	defer e.unlock(plan)

	start := e.clock()
	plan.Status = contracts.PlanExecuting

	var verificationPassed = true
	var failureReason string

	for idx, step := range plan.Playbook.Steps {
		e.recordStep(ctx, plan.PlanID, step.Type, "step_started", step.Parameters)

		result, err := e.dispatchWithRetry(ctx, step, plan.Playbook.RetryBackoffCap)
		if err != nil || !result.OK {
			verificationPassed = false
			failureReason = errString(err, result)
			e.recordStep(ctx, plan.PlanID, step.Type, "step_failed", map[string]any{"error": failureReason})
			break
		}

		if ok, verr := e.verifyStepAt(ctx, plan.Playbook, idx, result); !ok {
			verificationPassed = false
			failureReason = fmt.Sprintf("verification_failed: %v", verr)
			e.recordStep(ctx, plan.PlanID, step.Type, "verification_failed", map[string]any{"error": failureReason})
			break
		}
		e.recordStep(ctx, plan.PlanID, step.Type, "step_completed", result.Data)
	}

	rolledBack := false
	rollbackFailed := false
	if !verificationPassed {
		rolledBack, rollbackFailed = e.runRollback(ctx, plan)
	}

	plan.Status, failureReason = e.terminalStatus(verificationPassed, rolledBack, rollbackFailed, failureReason)
	now := e.clock()
	plan.CompletedAt = &now

	if rollbackFailed {
		e.publishEvent(ctx, "plan.rollback_failed", plan, failureReason)
		if e.escalator != nil {
			_, _ = e.escalator.EscalateCritical(ctx, "rollback failed for plan "+plan.PlanID, map[string]any{
				"plan_id":     plan.PlanID,
				"playbook_id": plan.Playbook.PlaybookID,
				"reason":      failureReason,
			})
		}
	}

	outcome, err := e.signOutcome(plan, start, now, verificationPassed, rolledBack, rollbackFailed, failureReason)
	if err != nil {
		return plan, err
	}
	plan.Outcome = &outcome

	if e.recorder != nil {
		_ = e.recorder.RecordOutcome(ctx, outcome)
	}
	e.publishEvent(ctx, "plan.executed", plan, failureReason)

	return plan, nil
}

func (e *Executor) terminalStatus(verificationPassed, rolledBack, rollbackFailed bool, reason string) (contracts.PlanStatus, string) {
	switch {
	case verificationPassed:
		return contracts.PlanCompleted, reason
	case rollbackFailed:
		return contracts.PlanFailed, reason
	case rolledBack:
		return contracts.PlanRolledBack, reason
	default:
		return contracts.PlanFailed, reason
	}
}

func (e *Executor) tryLock(plan contracts.RecoveryPlan) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, node := range plan.TargetNodes {
		if owner, ok := e.locked[node]; ok && owner != plan.PlanID {
			return false
		}
	}
	for _, node := range plan.TargetNodes {
		e.locked[node] = plan.PlanID
	}
	return true
}

func (e *Executor) unlock(plan contracts.RecoveryPlan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, node := range plan.TargetNodes {
		if e.locked[node] == plan.PlanID {
			delete(e.locked, node)
		}
	}
}

// dispatchWithRetry invokes the adapter named by step.Type, retrying
// retryable failures with exponential backoff up to cap attempts (a
// playbook-configured cap; 0 defaults to 3), per spec.md §4.6's
// unreachable-adapter tie-break.
func (e *Executor) dispatchWithRetry(ctx context.Context, step contracts.ActionRecord, cap int) (AdapterResult, error) {
	if cap <= 0 {
		cap = 3
	}
	adapter, ok := e.adapters[step.Type]
	if !ok {
		return AdapterResult{}, graceerr.AdapterError("executor: no adapter registered for action type "+step.Type, false, nil)
	}

	backoff := defaultBackoffBase
	var lastResult AdapterResult
	var lastErr error
	for attempt := 0; attempt < cap; attempt++ {
		result, err := adapter.Execute(ctx, step)
		if err == nil && result.OK {
			return result, nil
		}
		lastResult, lastErr = result, err
		retryable := result.Retryable
		if err != nil {
			if gerr, ok := err.(*graceerr.Error); ok {
				retryable = gerr.Retryable
			}
		}
		if !retryable {
			break
		}
		if attempt < cap-1 {
			e.sleep(backoff)
			backoff *= 2
		}
	}
	return lastResult, lastErr
}

// verifyStepAt evaluates the playbook's verification predicate at the
// same index as the executed step, if one exists; otherwise, when the
// playbook carries a compiled WASM predicate and a WASMVerifier is
// configured, that runs instead. A step with neither is verified
// unconditionally.
func (e *Executor) verifyStepAt(ctx context.Context, playbook contracts.Playbook, idx int, result AdapterResult) (bool, error) {
	if idx < len(playbook.Verifications) {
		return evaluatePredicate(playbook.Verifications[idx], result)
	}
	if len(playbook.VerificationWASM) > 0 && e.wasm != nil {
		return e.wasm.Verify(ctx, playbook.VerificationWASM, result)
	}
	return true, nil
}

func evaluatePredicate(predicate contracts.Predicate, result AdapterResult) (bool, error) {
	env, err := cel.NewEnv(
		cel.Variable("ok", cel.BoolType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return false, err
	}
	ast, issues := env.Compile(predicate.Expr)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, err
	}
	data := result.Data
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{"ok": result.OK, "data": data})
	if err != nil {
		return false, err
	}
	passed, isBool := out.Value().(bool)
	return isBool && passed, nil
}

// runRollback executes the playbook's rollback steps in reverse order,
// best-effort: every step is attempted even if an earlier one fails,
// and the overall success is reported for the terminal-state decision.
func (e *Executor) runRollback(ctx context.Context, plan contracts.RecoveryPlan) (rolledBack bool, rollbackFailed bool) {
	steps := plan.Playbook.RollbackSteps
	if len(steps) == 0 {
		return false, false
	}
	allOK := true
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		e.recordStep(ctx, plan.PlanID, step.Type, "rollback_started", step.Parameters)
		result, err := e.dispatchWithRetry(ctx, step, plan.Playbook.RetryBackoffCap)
		if err != nil || !result.OK {
			allOK = false
			e.recordStep(ctx, plan.PlanID, step.Type, "rollback_step_failed", map[string]any{"error": errString(err, result)})
			continue
		}
		e.recordStep(ctx, plan.PlanID, step.Type, "rollback_step_completed", result.Data)
	}
	return allOK, !allOK
}

func (e *Executor) signOutcome(plan contracts.RecoveryPlan, start, end time.Time, verificationPassed, rolledBack, rollbackFailed bool, rationale string) (contracts.SignedOutcome, error) {
	outcome := contracts.SignedOutcome{
		PlanID:             plan.PlanID,
		PlaybookID:         plan.Playbook.PlaybookID,
		Result:             string(plan.Status),
		DurationMs:         end.Sub(start).Milliseconds(),
		VerificationPassed: verificationPassed,
		TrustDecision:      trustDecisionFor(plan.Status),
		Rationale:          rationale,
		LearnedInsights:    learnedInsights(plan, rolledBack, rollbackFailed, rationale),
		SignedAt:           end,
	}
	if e.signer != nil {
		canon := fmt.Sprintf("%s:%s:%s:%s:%d", e.identity, outcome.PlanID, outcome.PlaybookID, outcome.Result, outcome.DurationMs)
		sig, err := e.signer.Sign([]byte(canon))
		if err != nil {
			return contracts.SignedOutcome{}, graceerr.Wrap(graceerr.KindValidation, "executor: sign outcome", err)
		}
		outcome.Signature = sig
	}
	return outcome, nil
}

// learnedInsights derives the SignedOutcome's LearnedInsights from how
// the plan actually terminated, so the record carries at least a
// one-line takeaway for whoever consumes it downstream (spec.md §4.6
// step 5). Each outcome shape gets exactly one insight; this is not a
// substitute for a dedicated learning pipeline.
func learnedInsights(plan contracts.RecoveryPlan, rolledBack, rollbackFailed bool, rationale string) []string {
	playbookID := plan.Playbook.PlaybookID
	switch {
	case plan.Status == contracts.PlanCompleted:
		return []string{fmt.Sprintf("playbook %s completed without rollback", playbookID)}
	case rollbackFailed:
		return []string{fmt.Sprintf("playbook %s failed and rollback also failed: %s", playbookID, rationale)}
	case rolledBack:
		return []string{fmt.Sprintf("playbook %s failed verification, rollback recovered prior state: %s", playbookID, rationale)}
	default:
		return []string{fmt.Sprintf("playbook %s failed with no rollback steps defined: %s", playbookID, rationale)}
	}
}

func trustDecisionFor(status contracts.PlanStatus) string {
	switch status {
	case contracts.PlanCompleted:
		return "trusted"
	case contracts.PlanRolledBack:
		return "recovered"
	default:
		return "distrusted"
	}
}

func (e *Executor) recordStep(ctx context.Context, planID, stepType, status string, payload map[string]any) {
	if e.recorder == nil {
		return
	}
	_ = e.recorder.RecordStep(ctx, planID, stepType, status, payload)
}

func (e *Executor) publishEvent(ctx context.Context, eventType string, plan contracts.RecoveryPlan, reason string) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.Publish(ctx, contracts.Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Source:    "executor",
		Resource:  plan.Playbook.PlaybookID,
		Timestamp: e.clock(),
		Subsystem: "executor",
		Payload: map[string]any{
			"plan_id": plan.PlanID,
			"status":  string(plan.Status),
			"reason":  reason,
		},
	})
}

func errString(err error, result AdapterResult) string {
	if err != nil {
		return err.Error()
	}
	return result.Error
}
