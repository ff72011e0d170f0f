package dispatch

import (
	"testing"

	"github.com/coastwatch/breakwater/internal/domain"
)

func policy(id, expression string, channels ...string) *domain.DispatchPolicy {
	return &domain.DispatchPolicy{
		ID:         id,
		Name:       id,
		Expression: expression,
		Channels:   channels,
		Enabled:    true,
	}
}

func transitionEvent(category domain.Category, severity domain.Severity, from, to domain.Status, score float64) *domain.TransitionEvent {
	return &domain.TransitionEvent{
		AlertID:    "alert-001",
		FromStatus: from,
		ToStatus:   to,
		Severity:   severity,
		Category:   category,
		RiskScore:  score,
		Seq:        2,
	}
}

func TestPolicyEngine(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("NewPolicyEngine failed: %v", err)
	}

	t.Run("LoadAndMatch", func(t *testing.T) {
		if err := engine.LoadPolicy(policy("p1", `severity == "critical"`, "sms", "webhook")); err != nil {
			t.Fatalf("LoadPolicy failed: %v", err)
		}

		event := transitionEvent(domain.CategoryWaveTsunami, domain.SeverityCritical, domain.StatusActive, domain.StatusResponding, 91)
		channels := engine.Channels(event)
		if len(channels) != 2 {
			t.Fatalf("expected 2 channels, got %v", channels)
		}

		event.Severity = domain.SeverityLow
		if got := engine.Channels(event); len(got) != 0 {
			t.Errorf("expected no channels for low severity, got %v", got)
		}
	})

	t.Run("UnionDeduplicates", func(t *testing.T) {
		engine, _ := NewPolicyEngine()
		engine.LoadPolicy(policy("p1", `severity == "critical"`, "sms", "webhook"))
		engine.LoadPolicy(policy("p2", `risk_score >= 80.0`, "webhook", "pager"))

		event := transitionEvent(domain.CategoryWaveTsunami, domain.SeverityCritical, domain.StatusActive, domain.StatusResponding, 91)
		channels := engine.Channels(event)

		seen := make(map[string]int)
		for _, ch := range channels {
			seen[ch]++
		}
		if len(channels) != 3 || seen["webhook"] != 1 {
			t.Errorf("expected 3 deduplicated channels, got %v", channels)
		}
	})

	t.Run("StatusEdgePredicates", func(t *testing.T) {
		engine, _ := NewPolicyEngine()
		engine.LoadPolicy(policy("resolve-notice", `to_status == "resolved" && from_status != "active"`, "email"))

		worked := transitionEvent(domain.CategoryOilSpill, domain.SeverityHigh, domain.StatusInvestigating, domain.StatusResolved, 70)
		if got := engine.Channels(worked); len(got) != 1 {
			t.Errorf("expected email channel, got %v", got)
		}

		direct := transitionEvent(domain.CategoryOilSpill, domain.SeverityHigh, domain.StatusActive, domain.StatusResolved, 70)
		if got := engine.Channels(direct); len(got) != 0 {
			t.Errorf("expected no channels, got %v", got)
		}
	})

	t.Run("CategoryPredicate", func(t *testing.T) {
		engine, _ := NewPolicyEngine()
		engine.LoadPolicy(policy("spill-team", `category == "oil_spill" && to_status == "responding"`, "spill-response"))

		match := transitionEvent(domain.CategoryOilSpill, domain.SeverityHigh, domain.StatusActive, domain.StatusResponding, 70)
		if got := engine.Channels(match); len(got) != 1 {
			t.Errorf("expected spill-response channel, got %v", got)
		}
	})

	t.Run("ValidateRejectsBadExpression", func(t *testing.T) {
		if err := engine.ValidatePolicy(policy("bad", `severity ==`)); err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("ValidateRejectsNonBool", func(t *testing.T) {
		if err := engine.ValidatePolicy(policy("nonbool", `risk_score + 1.0`)); err == nil {
			t.Error("expected error for non-bool expression")
		}
	})

	t.Run("ReloadReplaces", func(t *testing.T) {
		engine, _ := NewPolicyEngine()
		engine.LoadPolicy(policy("old", `true`, "sms"))

		disabled := policy("off", `true`, "email")
		disabled.Enabled = false

		if err := engine.ReloadPolicies([]*domain.DispatchPolicy{
			policy("new", `severity == "high"`, "webhook"),
			disabled,
		}); err != nil {
			t.Fatalf("ReloadPolicies failed: %v", err)
		}

		if engine.PoliciesCount() != 1 {
			t.Errorf("expected 1 policy after reload, got %d", engine.PoliciesCount())
		}

		event := transitionEvent(domain.CategoryOilSpill, domain.SeverityHigh, domain.StatusActive, domain.StatusResponding, 70)
		channels := engine.Channels(event)
		if len(channels) != 1 || channels[0] != "webhook" {
			t.Errorf("expected [webhook], got %v", channels)
		}
	})
}
