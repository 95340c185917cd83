// Package planner implements the Planner (L8): it selects the best
// playbook for an EnrichedEvent and turns it into a RecoveryPlan,
// gating engine compatibility with `semver`, action records with
// `jsonschema`, and the final approval decision with `pkg/governance`.
// Grounded on the teacher's trust.PackLoader, whose semver-constrained,
// multi-verifier compatibility gate generalizes directly into playbook
// selection here.
package planner

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// Catalog lists the known playbooks. A real deployment backs this with
// a database table; tests use a static slice.
type Catalog interface {
	List(ctx context.Context) ([]contracts.Playbook, error)
}

// StatsProvider supplies raw trial counts for Bayesian smoothing of a
// playbook's historical success_rate. When absent, the planner falls
// back to the playbook's stored SuccessRate unsmoothed.
type StatsProvider interface {
	TrialsFor(playbookID string) (successes, failures int)
}

// SchemaProvider resolves a playbook's action_schema_id to raw JSON
// Schema bytes for action-record validation.
type SchemaProvider interface {
	SchemaFor(schemaID string) ([]byte, bool)
}

// Authorizer is the Governance Gate contract.
type Authorizer interface {
	Check(ctx context.Context, actor, action, resource string, payload map[string]any) (contracts.Decision, error)
}

// Publisher emits plan.proposed onto the mesh.
type Publisher interface {
	Publish(ctx context.Context, evt contracts.Event) error
}

// reviewThreshold is spec.md §4.6's default requires_approval cutoff.
const reviewThreshold = 0.5

// betaPrior is the Bayesian-smoothing prior (Beta(alpha, alpha)), a
// mild pull toward 0.5 for playbooks with few recorded trials.
const betaPrior = 2.0

// Planner selects and proposes recovery plans.
type Planner struct {
	catalog       Catalog
	stats         StatsProvider
	schemas       SchemaProvider
	authz         Authorizer
	publisher     Publisher
	engineVersion *semver.Version
	clock         func() time.Time

	schemaCache map[string]*jsonschema.Schema
}

// New constructs a Planner. engineVersion is this deployment's engine
// semver, checked against each playbook's MinEngineVersion constraint.
func New(catalog Catalog, stats StatsProvider, schemas SchemaProvider, authz Authorizer, publisher Publisher, engineVersion string) (*Planner, error) {
	v, err := semver.NewVersion(engineVersion)
	if err != nil {
		return nil, fmt.Errorf("planner: invalid engine version %q: %w", engineVersion, err)
	}
	return &Planner{
		catalog:       catalog,
		stats:         stats,
		schemas:       schemas,
		authz:         authz,
		publisher:     publisher,
		engineVersion: v,
		clock:         time.Now,
		schemaCache:   make(map[string]*jsonschema.Schema),
	}, nil
}

// WithClock overrides the clock for deterministic tests.
func (p *Planner) WithClock(clock func() time.Time) *Planner {
	p.clock = clock
	return p
}

// Plan selects a playbook for enriched and proposes a RecoveryPlan,
// calling Governance to decide its initial status, per spec.md §4.6.
func (p *Planner) Plan(ctx context.Context, enriched contracts.EnrichedEvent, guardrail contracts.Guardrail, targetNodes []string, advisorRanking []string, blastRadius int) (contracts.RecoveryPlan, error) {
	all, err := p.catalog.List(ctx)
	if err != nil {
		return contracts.RecoveryPlan{}, graceerr.Wrap(graceerr.KindNotFound, "planner: list playbooks", err)
	}

	candidates := p.compatibleCandidates(all, enriched)
	if len(candidates) == 0 {
		return contracts.RecoveryPlan{}, graceerr.NotFound("planner: no compatible playbook for intent " + string(enriched.Intent))
	}

	best := p.selectBest(candidates, advisorRanking)

	if err := p.validateActionRecords(best); err != nil {
		return contracts.RecoveryPlan{}, err
	}

	riskScore := computeRiskScore(best, enriched, blastRadius, guardrail)
	requiresApproval := best.RequiresApproval || riskScore >= reviewThreshold

	plan := contracts.RecoveryPlan{
		PlanID:           uuid.New().String(),
		Playbook:         best,
		TargetNodes:      targetNodes,
		Parameters:       map[string]any{},
		RiskScore:        riskScore,
		Justification:    fmt.Sprintf("selected %q for intent %s (risk=%.2f, guardrail=%s)", best.Name, enriched.Intent, riskScore, guardrail),
		RequiresApproval: requiresApproval,
		Status:           contracts.PlanProposed,
		CreatedAt:        p.clock(),
	}

	p.publish(ctx, "plan.proposed", plan)

	if p.authz != nil {
		decision, err := p.authz.Check(ctx, enriched.SignerIdentity, "execute_playbook", best.PlaybookID, map[string]any{
			"risk_score":    riskScore,
			"risk_level":    string(best.RiskLevel),
			"target_nodes":  targetNodes,
			"requires_review": requiresApproval,
		})
		if err != nil {
			return contracts.RecoveryPlan{}, graceerr.Wrap(graceerr.KindUnauthorized, "planner: governance check", err)
		}
		switch decision.Decision {
		case contracts.PolicyDeny:
			plan.Status = contracts.PlanFailed
			plan.Justification += "; denied: " + decision.Reason
		case contracts.PolicyReview:
			plan.Status = contracts.PlanProposed
			plan.Justification += fmt.Sprintf("; awaiting parliament session %s", decision.ParliamentSessionID)
		default:
			plan.Status = contracts.PlanApproved
		}
	} else if !requiresApproval {
		plan.Status = contracts.PlanApproved
	}

	return plan, nil
}

// compatibleCandidates filters all to the ones whose MinEngineVersion
// constraint is satisfied and whose preconditions hold against
// enriched's context.
func (p *Planner) compatibleCandidates(all []contracts.Playbook, enriched contracts.EnrichedEvent) []contracts.Playbook {
	out := make([]contracts.Playbook, 0, len(all))
	for _, pb := range all {
		if pb.MinEngineVersion != "" {
			constraint, err := semver.NewConstraint(pb.MinEngineVersion)
			if err != nil || !constraint.Check(p.engineVersion) {
				continue
			}
		}
		if !preconditionsMatch(pb.Preconditions, enriched) {
			continue
		}
		out = append(out, pb)
	}
	return out
}

// preconditionsMatch evaluates each CEL precondition against enriched's
// context map, failing closed (precondition does not match) on any
// compile or evaluation error.
func preconditionsMatch(predicates []contracts.Predicate, enriched contracts.EnrichedEvent) bool {
	if len(predicates) == 0 {
		return true
	}
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("risk", cel.DoubleType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return false
	}
	vars := map[string]any{
		"intent":     string(enriched.Intent),
		"confidence": enriched.Confidence,
		"risk":       enriched.Risk,
		"context":    toCELMap(enriched.Context),
	}
	for _, pred := range predicates {
		ast, issues := env.Compile(pred.Expr)
		if issues != nil && issues.Err() != nil {
			return false
		}
		prg, err := env.Program(ast)
		if err != nil {
			return false
		}
		out, _, err := prg.Eval(vars)
		if err != nil {
			return false
		}
		ok, isBool := out.Value().(bool)
		if !isBool || !ok {
			return false
		}
	}
	return true
}

func toCELMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// selectBest picks the highest Bayesian-smoothed success_rate,
// tie-breaking by lowest risk_level, then by advisorRanking order.
func (p *Planner) selectBest(candidates []contracts.Playbook, advisorRanking []string) contracts.Playbook {
	rankIndex := make(map[string]int, len(advisorRanking))
	for i, id := range advisorRanking {
		rankIndex[id] = i
	}

	scored := make([]scoredPlaybook, 0, len(candidates))
	for _, pb := range candidates {
		scored = append(scored, scoredPlaybook{
			playbook:    pb,
			successRate: p.smoothedSuccessRate(pb),
			riskRank:    riskRank(pb.RiskLevel),
			advisorRank: advisorRankOf(pb.PlaybookID, rankIndex),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].successRate != scored[j].successRate {
			return scored[i].successRate > scored[j].successRate
		}
		if scored[i].riskRank != scored[j].riskRank {
			return scored[i].riskRank < scored[j].riskRank
		}
		return scored[i].advisorRank < scored[j].advisorRank
	})
	return scored[0].playbook
}

type scoredPlaybook struct {
	playbook    contracts.Playbook
	successRate float64
	riskRank    int
	advisorRank int
}

func advisorRankOf(playbookID string, rankIndex map[string]int) int {
	if idx, ok := rankIndex[playbookID]; ok {
		return idx
	}
	return len(rankIndex) + 1
}

// smoothedSuccessRate applies Beta(betaPrior, betaPrior) smoothing:
// (successes + prior) / (trials + 2*prior). With no StatsProvider or no
// recorded trials, the playbook's stored SuccessRate stands in as the
// trial-weighted mean.
func (p *Planner) smoothedSuccessRate(pb contracts.Playbook) float64 {
	if p.stats == nil {
		return pb.SuccessRate
	}
	successes, failures := p.stats.TrialsFor(pb.PlaybookID)
	trials := successes + failures
	if trials == 0 {
		return pb.SuccessRate
	}
	return (float64(successes) + betaPrior) / (float64(trials) + 2*betaPrior)
}

func riskRank(level contracts.RiskLevel) int {
	switch level {
	case contracts.RiskLow:
		return 0
	case contracts.RiskMedium:
		return 1
	case contracts.RiskHigh:
		return 2
	case contracts.RiskCritical:
		return 3
	default:
		return 4
	}
}

// computeRiskScore implements spec.md §4.6's risk_score formula: a
// weighted blend of the playbook's own risk tier, the enriched event's
// risk, and blast radius, biased by the current guardrail.
func computeRiskScore(pb contracts.Playbook, enriched contracts.EnrichedEvent, blastRadius int, guardrail contracts.Guardrail) float64 {
	tierScore := float64(riskRank(pb.RiskLevel)) / 3.0
	blastScore := float64(blastRadius) / 20.0
	if blastScore > 1 {
		blastScore = 1
	}
	raw := 0.4*tierScore + 0.4*enriched.Risk + 0.2*blastScore

	switch guardrail {
	case contracts.GuardrailTighten:
		raw *= 1.25
	case contracts.GuardrailLoosen:
		raw *= 0.8
	}
	if raw > 1 {
		raw = 1
	}
	if raw < 0 {
		raw = 0
	}
	return raw
}

// validateActionRecords checks every step and rollback action's
// Parameters against the playbook's declared JSON Schema, when one is
// configured. A missing or uncompilable schema is a Validation error:
// the planner fails closed rather than propose an unvalidated plan.
func (p *Planner) validateActionRecords(pb contracts.Playbook) error {
	if pb.ActionSchemaID == "" || p.schemas == nil {
		return nil
	}
	schema, err := p.compiledSchema(pb.ActionSchemaID)
	if err != nil {
		return err
	}
	for _, step := range append(append([]contracts.ActionRecord{}, pb.Steps...), pb.RollbackSteps...) {
		if err := schema.Validate(toJSONValue(step.Parameters)); err != nil {
			return graceerr.Validation(fmt.Sprintf("planner: action %q parameters fail schema %q: %v", step.Type, pb.ActionSchemaID, err))
		}
	}
	return nil
}

func (p *Planner) compiledSchema(schemaID string) (*jsonschema.Schema, error) {
	if s, ok := p.schemaCache[schemaID]; ok {
		return s, nil
	}
	raw, ok := p.schemas.SchemaFor(schemaID)
	if !ok {
		return nil, graceerr.Validation("planner: unknown action schema " + schemaID)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaID, bytes.NewReader(raw)); err != nil {
		return nil, graceerr.Wrap(graceerr.KindValidation, "planner: add schema resource", err)
	}
	schema, err := compiler.Compile(schemaID)
	if err != nil {
		return nil, graceerr.Wrap(graceerr.KindValidation, "planner: compile schema", err)
	}
	p.schemaCache[schemaID] = schema
	return schema, nil
}

func toJSONValue(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (p *Planner) publish(ctx context.Context, eventType string, plan contracts.RecoveryPlan) {
	if p.publisher == nil {
		return
	}
	_ = p.publisher.Publish(ctx, contracts.Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Source:    "planner",
		Resource:  plan.Playbook.PlaybookID,
		Timestamp: p.clock(),
		Subsystem: "planner",
		Payload: map[string]any{
			"plan_id":     plan.PlanID,
			"playbook_id": plan.Playbook.PlaybookID,
			"risk_score":  plan.RiskScore,
			"status":      string(plan.Status),
		},
	})
}
