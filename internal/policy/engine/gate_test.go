package engine

import (
	"context"
	"testing"
)

func TestNewOPAGate_DefaultPolicyCompiles(t *testing.T) {
	g, err := NewOPAGate("")
	if err != nil {
		t.Fatalf("NewOPAGate: %v", err)
	}
	if err := g.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestNewOPAGate_RejectsBadRego(t *testing.T) {
	if _, err := NewOPAGate("package broken\n\nallow {"); err == nil {
		t.Error("NewOPAGate accepted invalid rego")
	}
}

func TestEvaluateIssuance_AllowsUnderBudget(t *testing.T) {
	g, err := NewOPAGate("")
	if err != nil {
		t.Fatalf("NewOPAGate: %v", err)
	}
	res, err := g.EvaluateIssuance(context.Background(), GateInput{
		UserID: "u1", RecentFailures: 2, MaxFailures: 5, Profile: "bank_strict",
	})
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if !res.Allowed {
		t.Errorf("Allowed = false, want true (2 failures of 5 budget)")
	}
}

func TestEvaluateIssuance_DeniesOverBudget(t *testing.T) {
	g, err := NewOPAGate("")
	if err != nil {
		t.Fatalf("NewOPAGate: %v", err)
	}
	res, err := g.EvaluateIssuance(context.Background(), GateInput{
		UserID: "u1", RecentFailures: 5, MaxFailures: 5, Profile: "bank_strict",
	})
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if res.Allowed {
		t.Error("Allowed = true, want false at failure budget")
	}
	if res.Reason != "too_many_recent_failures" {
		t.Errorf("Reason = %q, want too_many_recent_failures", res.Reason)
	}
}

func TestEvaluateIssuance_ZeroBudgetDisablesGate(t *testing.T) {
	g, err := NewOPAGate("")
	if err != nil {
		t.Fatalf("NewOPAGate: %v", err)
	}
	res, err := g.EvaluateIssuance(context.Background(), GateInput{
		UserID: "u1", RecentFailures: 100, MaxFailures: 0, Profile: "standard",
	})
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if !res.Allowed {
		t.Error("Allowed = false, want true when max_failures is 0")
	}
}
