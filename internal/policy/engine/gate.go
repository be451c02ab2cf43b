// Package engine evaluates the challenge-issuance attempt gate with OPA
// Rego. The gate decides whether a user may be issued a new challenge given
// their recent verification failures; thresholds come from the active
// profile, the rule itself is Rego so deployments can replace it.
package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Default Rego gate: deny issuance once the profile's failure budget for the
// gate window is exhausted. A max_failures of 0 disables the gate.
const defaultGatePolicy = `package voicegate.attempt_gate

default allow = true
default reason = ""

allow = false if {
	input.policy.max_failures > 0
	input.user.recent_failures >= input.policy.max_failures
}

reason = "too_many_recent_failures" if {
	not allow
}
`

// GateInput is the evaluation input for one issuance decision.
type GateInput struct {
	UserID           string
	RecentFailures   int
	ActiveChallenges int
	MaxFailures      int
	Profile          string
}

// GateResult is the gate decision. Reason is set when Allowed is false.
type GateResult struct {
	Allowed bool
	Reason  string
}

// Gate evaluates the attempt-gate policy for challenge issuance.
type Gate interface {
	EvaluateIssuance(ctx context.Context, in GateInput) (GateResult, error)
}

// OPAGate is a Gate backed by a compiled Rego module.
type OPAGate struct {
	compiler *ast.Compiler
}

// NewOPAGate compiles the given Rego source, or the default gate policy when
// source is empty. Compilation failures are returned, never deferred to the
// first decision.
func NewOPAGate(source string) (*OPAGate, error) {
	if source == "" {
		source = defaultGatePolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"attempt_gate.rego": source})
	if err != nil {
		return nil, fmt.Errorf("engine: compile attempt gate policy: %w", err)
	}
	return &OPAGate{compiler: compiler}, nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (g *OPAGate) HealthCheck(ctx context.Context) error {
	_, err := g.EvaluateIssuance(ctx, GateInput{UserID: "health", Profile: "standard"})
	return err
}

// EvaluateIssuance runs the gate for one issuance request. On evaluation
// failure the error is returned and the caller decides whether to fail open.
func (g *OPAGate) EvaluateIssuance(ctx context.Context, in GateInput) (GateResult, error) {
	input := map[string]interface{}{
		"user": map[string]interface{}{
			"id":                in.UserID,
			"recent_failures":   in.RecentFailures,
			"active_challenges": in.ActiveChallenges,
		},
		"policy": map[string]interface{}{
			"name":         in.Profile,
			"max_failures": in.MaxFailures,
		},
	}
	q := rego.New(
		rego.Query("allowed = data.voicegate.attempt_gate.allow; reason = data.voicegate.attempt_gate.reason"),
		rego.Compiler(g.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return GateResult{}, fmt.Errorf("engine: eval attempt gate: %w", err)
	}
	if len(rs) == 0 {
		return GateResult{}, fmt.Errorf("engine: attempt gate query returned no result")
	}
	out := GateResult{}
	if v, ok := rs[0].Bindings["allowed"].(bool); ok {
		out.Allowed = v
	}
	if v, ok := rs[0].Bindings["reason"].(string); ok {
		out.Reason = v
	}
	return out, nil
}
