package sim

import (
	"strings"
	"testing"

	"cyber_range/internal/domain"
)

func TestApplySucceedsAboveThreshold(t *testing.T) {
	res, err := New().Apply("exploitation", "web-frontend", domain.EffectContext{Effectiveness: 0.9})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success at effectiveness 0.9: %+v", res)
	}
	if res.SystemStateChanges["shell_access"] != "web-frontend" {
		t.Fatalf("state changes=%v", res.SystemStateChanges)
	}
	if !strings.Contains(res.Output, "web-frontend") {
		t.Fatalf("output does not mention target: %s", res.Output)
	}
}

func TestApplyFailsBelowThreshold(t *testing.T) {
	res, err := New().Apply("exploitation", "web-frontend", domain.EffectContext{Effectiveness: 0.5})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Success {
		t.Fatalf("expected domain failure below threshold")
	}
	if len(res.SystemStateChanges) != 0 {
		t.Fatalf("failed action must not change system state: %v", res.SystemStateChanges)
	}
	if res.Metadata["threshold"] != 0.8 {
		t.Fatalf("metadata=%v", res.Metadata)
	}
}

func TestApplyUnknownCategory(t *testing.T) {
	if _, err := New().Apply("time_travel", "dc-01", domain.EffectContext{Effectiveness: 2.0}); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestEveryRegistryCategoryHasAnEffect(t *testing.T) {
	categories := []string{
		"reconnaissance", "scanning", "exploitation", "credential_access",
		"lateral_movement", "persistence", "exfiltration",
		"detection", "monitoring", "hardening", "containment", "forensics", "recovery",
	}
	for _, category := range categories {
		res, err := New().Apply(category, "host", domain.EffectContext{Effectiveness: 2.0})
		if err != nil {
			t.Fatalf("category %s: %v", category, err)
		}
		if !res.Success || len(res.SystemStateChanges) == 0 {
			t.Fatalf("category %s produced no effect: %+v", category, res)
		}
	}
}
