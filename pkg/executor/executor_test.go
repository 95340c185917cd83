package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
)

type stubAdapter struct {
	results []AdapterResult
	errs    []error
	calls   int
}

func (a *stubAdapter) Execute(_ context.Context, _ contracts.ActionRecord) (AdapterResult, error) {
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	var err error
	if i < len(a.errs) {
		err = a.errs[i]
	}
	return a.results[i], err
}

type recordingRecorder struct {
	steps    []string
	outcomes []contracts.SignedOutcome
}

func (r *recordingRecorder) RecordStep(_ context.Context, _, stepType, status string, _ map[string]any) error {
	r.steps = append(r.steps, stepType+":"+status)
	return nil
}

func (r *recordingRecorder) RecordOutcome(_ context.Context, outcome contracts.SignedOutcome) error {
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

type noopPublisher struct{ events []contracts.Event }

func (p *noopPublisher) Publish(_ context.Context, evt contracts.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func testPlan(playbook contracts.Playbook, targets []string) contracts.RecoveryPlan {
	return contracts.RecoveryPlan{
		PlanID:      "plan-1",
		Playbook:    playbook,
		TargetNodes: targets,
		Status:      contracts.PlanApproved,
	}
}

func TestExecute_CompletesOnSuccess(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("executor-1")
	require.NoError(t, err)
	adapters := map[string]Adapter{"noop": &stubAdapter{results: []AdapterResult{{OK: true}}}}
	rec := &recordingRecorder{}
	pub := &noopPublisher{}
	ex := New(adapters, rec, pub, nil, signer, "executor-1").WithSleep(func(time.Duration) {})

	playbook := contracts.Playbook{PlaybookID: "pb1", Steps: []contracts.ActionRecord{{Type: "noop", Target: "n1"}}}
	plan, err := ex.Execute(context.Background(), testPlan(playbook, []string{"n1"}))
	require.NoError(t, err)
	assert.Equal(t, contracts.PlanCompleted, plan.Status)
	require.NotNil(t, plan.Outcome)
	assert.NotEmpty(t, plan.Outcome.Signature)
	assert.Contains(t, rec.steps, "noop:step_completed")
	require.Len(t, plan.Outcome.LearnedInsights, 1)
	assert.Contains(t, plan.Outcome.LearnedInsights[0], "completed without rollback")
}

func TestExecute_FailsAndRollsBack(t *testing.T) {
	adapters := map[string]Adapter{
		"deploy":   &stubAdapter{results: []AdapterResult{{OK: false, Error: "boom", Retryable: false}}},
		"rollback": &stubAdapter{results: []AdapterResult{{OK: true}}},
	}
	rec := &recordingRecorder{}
	ex := New(adapters, rec, &noopPublisher{}, nil, nil, "executor-1").WithSleep(func(time.Duration) {})

	playbook := contracts.Playbook{
		PlaybookID:    "pb1",
		Steps:         []contracts.ActionRecord{{Type: "deploy", Target: "n1"}},
		RollbackSteps: []contracts.ActionRecord{{Type: "rollback", Target: "n1"}},
	}
	plan, err := ex.Execute(context.Background(), testPlan(playbook, []string{"n1"}))
	require.NoError(t, err)
	assert.Equal(t, contracts.PlanRolledBack, plan.Status)
	assert.Contains(t, rec.steps, "rollback:rollback_step_completed")
	require.NotNil(t, plan.Outcome)
	require.Len(t, plan.Outcome.LearnedInsights, 1)
	assert.Contains(t, plan.Outcome.LearnedInsights[0], "rollback recovered prior state")
}

func TestExecute_RollbackFailureEscalates(t *testing.T) {
	adapters := map[string]Adapter{
		"deploy":   &stubAdapter{results: []AdapterResult{{OK: false, Retryable: false}}},
		"rollback": &stubAdapter{results: []AdapterResult{{OK: false, Retryable: false}}},
	}
	escalated := false
	escalator := escalatorFunc(func(ctx context.Context, reason string, payload map[string]any) (string, error) {
		escalated = true
		return "session-1", nil
	})
	ex := New(adapters, &recordingRecorder{}, &noopPublisher{}, escalator, nil, "executor-1").WithSleep(func(time.Duration) {})

	playbook := contracts.Playbook{
		PlaybookID:    "pb1",
		Steps:         []contracts.ActionRecord{{Type: "deploy", Target: "n1"}},
		RollbackSteps: []contracts.ActionRecord{{Type: "rollback", Target: "n1"}},
	}
	plan, err := ex.Execute(context.Background(), testPlan(playbook, []string{"n1"}))
	require.NoError(t, err)
	assert.Equal(t, contracts.PlanFailed, plan.Status)
	assert.True(t, escalated)
}

func TestExecute_RetriesRetryableFailures(t *testing.T) {
	adapter := &stubAdapter{
		results: []AdapterResult{{OK: false, Retryable: true}, {OK: false, Retryable: true}, {OK: true}},
	}
	ex := New(map[string]Adapter{"noop": adapter}, &recordingRecorder{}, &noopPublisher{}, nil, nil, "executor-1").WithSleep(func(time.Duration) {})

	playbook := contracts.Playbook{PlaybookID: "pb1", Steps: []contracts.ActionRecord{{Type: "noop", Target: "n1"}}, RetryBackoffCap: 5}
	plan, err := ex.Execute(context.Background(), testPlan(playbook, []string{"n1"}))
	require.NoError(t, err)
	assert.Equal(t, contracts.PlanCompleted, plan.Status)
	assert.Equal(t, 3, adapter.calls)
}

func TestExecute_OverlappingTargetNodesQueues(t *testing.T) {
	blocking := &blockingAdapter{release: make(chan struct{}), started: make(chan struct{})}
	ex := New(map[string]Adapter{"noop": blocking}, &recordingRecorder{}, &noopPublisher{}, nil, nil, "executor-1").WithSleep(func(time.Duration) {})

	playbook := contracts.Playbook{PlaybookID: "pb1", Steps: []contracts.ActionRecord{{Type: "noop", Target: "n1"}}}
	plan1 := testPlan(playbook, []string{"n1"})
	plan1.PlanID = "plan-1"
	plan2 := testPlan(playbook, []string{"n1"})
	plan2.PlanID = "plan-2"

	done := make(chan contracts.RecoveryPlan, 1)
	go func() {
		p, _ := ex.Execute(context.Background(), plan1)
		done <- p
	}()

	<-blocking.started
	queued, err := ex.Execute(context.Background(), plan2)
	require.NoError(t, err)
	assert.Equal(t, contracts.PlanQueued, queued.Status)

	close(blocking.release)
	<-done
}

func TestExecute_VerificationPredicateFailureTriggersRollback(t *testing.T) {
	adapters := map[string]Adapter{
		"noop":     &stubAdapter{results: []AdapterResult{{OK: true, Data: map[string]any{"healthy": false}}}},
		"rollback": &stubAdapter{results: []AdapterResult{{OK: true}}},
	}
	ex := New(adapters, &recordingRecorder{}, &noopPublisher{}, nil, nil, "executor-1").WithSleep(func(time.Duration) {})

	playbook := contracts.Playbook{
		PlaybookID:    "pb1",
		Steps:         []contracts.ActionRecord{{Type: "noop", Target: "n1"}},
		Verifications: []contracts.Predicate{{Name: "healthy", Expr: "data.healthy == true"}},
		RollbackSteps: []contracts.ActionRecord{{Type: "rollback", Target: "n1"}},
	}
	plan, err := ex.Execute(context.Background(), testPlan(playbook, []string{"n1"}))
	require.NoError(t, err)
	assert.Equal(t, contracts.PlanRolledBack, plan.Status)
}

type escalatorFunc func(ctx context.Context, reason string, payload map[string]any) (string, error)

func (f escalatorFunc) EscalateCritical(ctx context.Context, reason string, payload map[string]any) (string, error) {
	return f(ctx, reason, payload)
}

type blockingAdapter struct {
	release chan struct{}
	started chan struct{}
	once    bool
}

func (a *blockingAdapter) Execute(_ context.Context, _ contracts.ActionRecord) (AdapterResult, error) {
	if !a.once {
		a.once = true
		close(a.started)
		<-a.release
	}
	return AdapterResult{OK: true}, nil
}
