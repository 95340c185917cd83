// Package governance implements the Governance Gate (L3): a
// CEL-backed, data-driven policy evaluator that turns a proposed action
// into an allow/deny/review Decision, opening a Parliament session for
// any review outcome. Grounded on the teacher's governance.PolicyEngine
// and governance.CELPolicyEvaluator (both CEL-based, program-caching
// evaluators), generalized from the teacher's single-verdict ABAC shape
// to the spec's ordered static-policy → risk → sensitivity algorithm.
package governance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/crypto"
	"github.com/mindburn-labs/grace/pkg/graceerr"
)

// riskRank orders risk levels so RiskAtOrAbove thresholds compare
// correctly; anything absent from the map ranks below "low".
var riskRank = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// sensitiveMarkers are action-name substrings that force a review even
// when no static policy matched, per spec.md §4.3 step 3.
var sensitiveMarkers = []string{"schema", "delete"}

// SessionOpener opens a Parliament session for a review decision and
// returns its session_id. Implemented by pkg/parliament.
type SessionOpener interface {
	OpenSession(ctx context.Context, policyName, actionType string, payload map[string]any, actor, resource, riskLevel string) (string, error)
}

// Recorder appends a decision to the Immutable Log.
type Recorder interface {
	RecordDecision(ctx context.Context, actor, action, resource string, payload map[string]any, decision contracts.Decision) error
}

// Gate is the Governance Gate. Policies are loaded once and evaluated
// in descending severity order on every check.
type Gate struct {
	mu       sync.RWMutex
	env      *cel.Env
	policies []contracts.Policy
	programs map[string]cel.Program
	opener   SessionOpener
	recorder Recorder
	hasher   *crypto.CanonicalHasher
	caser    cases.Caser
}

// New builds a Gate with a CEL environment exposing actor/action/
// resource/payload to policy conditions, mirroring the teacher's
// NewPolicyEngine variable declarations.
func New(opener SessionOpener, recorder Recorder) (*Gate, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("governance: create CEL env: %w", err)
	}

	return &Gate{
		env:      env,
		programs: make(map[string]cel.Program),
		opener:   opener,
		recorder: recorder,
		hasher:   crypto.NewCanonicalHasher(),
		caser:    cases.Fold(), // locale-independent case folding for keyword matching
	}, nil
}

// LoadPolicy compiles and registers policy's CEL condition (if any) and
// stores the policy for ordered evaluation. Policies with no CELExpr
// rely solely on the keyword/path/risk matchers.
func (g *Gate) LoadPolicy(policy contracts.Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if policy.Condition.CELExpr != "" {
		ast, issues := g.env.Compile(policy.Condition.CELExpr)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("governance: compile policy %q: %w", policy.Name, issues.Err())
		}
		prg, err := g.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
		if err != nil {
			return fmt.Errorf("governance: build program for %q: %w", policy.Name, err)
		}
		g.programs[policy.Name] = prg
	}

	g.policies = append(g.policies, policy)
	sortBySeverityDesc(g.policies)
	return nil
}

func sortBySeverityDesc(policies []contracts.Policy) {
	for i := 1; i < len(policies); i++ {
		for j := i; j > 0 && policies[j].Severity > policies[j-1].Severity; j-- {
			policies[j], policies[j-1] = policies[j-1], policies[j]
		}
	}
}

// Check implements the spec.md §4.3 algorithm: static policies in
// severity order (matching deny wins immediately), then risk level,
// then sensitivity keywords, else allow. Review outcomes open a
// Parliament session and the resulting session_id is attached to the
// Decision. Every outcome is logged via recorder.
func (g *Gate) Check(ctx context.Context, actor, action, resource string, payload map[string]any) (contracts.Decision, error) {
	auditID := uuid.New().String()
	decision := g.evaluate(ctx, actor, action, resource, payload, auditID)

	if decision.Decision == contracts.PolicyReview {
		if g.opener == nil {
			return contracts.Decision{}, graceerr.Validation("governance: review outcome with no session opener configured")
		}
		riskLevel := riskLevelOf(payload)
		sessionID, err := g.opener.OpenSession(ctx, decision.Reason, action, payload, actor, resource, riskLevel)
		if err != nil {
			return contracts.Decision{}, graceerr.Wrap(graceerr.KindUnauthorized, "governance: open parliament session", err)
		}
		decision.ParliamentSessionID = sessionID
	}

	if g.recorder != nil {
		if err := g.recorder.RecordDecision(ctx, actor, action, resource, payload, decision); err != nil {
			return decision, graceerr.Wrap(graceerr.KindLogUnavailable, "governance: record decision", err)
		}
	}

	return decision, nil
}

func (g *Gate) evaluate(ctx context.Context, actor, action, resource string, payload map[string]any, auditID string) contracts.Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Step 1: static policies in severity order; a matching deny wins
	// immediately, but a matching allow/review also short-circuits
	// since policies are data-driven rules, not merely deny filters.
	for _, p := range g.policies {
		if g.matches(p, actor, action, resource, payload) {
			return contracts.Decision{
				Decision: p.Action,
				Reason:   fmt.Sprintf("matched policy %q", p.Name),
				AuditID:  auditID,
			}
		}
	}

	// Step 2: risk level.
	risk := riskLevelOf(payload)
	if risk == "high" || risk == "critical" {
		return contracts.Decision{
			Decision: contracts.PolicyReview,
			Reason:   fmt.Sprintf("risk level %q requires review", risk),
			AuditID:  auditID,
		}
	}

	// Step 3: schema-like sensitivities on the action name.
	folded := g.caser.String(action)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(folded, marker) {
			return contracts.Decision{
				Decision: contracts.PolicyReview,
				Reason:   fmt.Sprintf("action name contains sensitive marker %q", marker),
				AuditID:  auditID,
			}
		}
	}

	// Step 4: default allow.
	return contracts.Decision{Decision: contracts.PolicyAllow, Reason: "no policy matched", AuditID: auditID}
}

func (g *Gate) matches(p contracts.Policy, actor, action, resource string, payload map[string]any) bool {
	cond := p.Condition

	if cond.CELExpr != "" {
		prg, ok := g.programs[p.Name]
		if !ok {
			return false
		}
		out, _, err := prg.Eval(map[string]any{
			"actor":    actor,
			"action":   action,
			"resource": resource,
			"payload":  toCELMap(payload),
		})
		if err != nil {
			return false // fail closed on evaluation error: policy does not match
		}
		if allowed, ok := out.Value().(bool); !ok || !allowed {
			return false
		}
	}

	if cond.Action != "" && cond.Action != action {
		return false
	}

	if len(cond.ForbiddenPaths) > 0 {
		matched := false
		for _, path := range cond.ForbiddenPaths {
			if strings.Contains(resource, path) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(cond.Keywords) > 0 {
		canon, err := crypto.Canonicalize(payload)
		if err != nil {
			return false
		}
		haystack := g.caser.String(string(canon))
		matched := false
		for _, kw := range cond.Keywords {
			if strings.Contains(haystack, g.caser.String(kw)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if cond.RiskAtOrAbove != "" {
		want, ok := riskRank[cond.RiskAtOrAbove]
		if !ok {
			return false
		}
		if riskRank[riskLevelOf(payload)] < want {
			return false
		}
	}

	return true
}

func riskLevelOf(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload["risk_level"].(string); ok {
		return strings.ToLower(v)
	}
	return ""
}

func toCELMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
