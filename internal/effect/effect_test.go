package effect

import (
	"testing"

	"cyber_range/internal/domain"
)

func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func TestComputeBaseline(t *testing.T) {
	// rnd=0.5 makes the randomization factor exactly 1.0.
	got := Compute(Input{
		BaseEffectiveness: 1.0,
		Burn:              domain.BurnStateLow,
		Archetype:         "oracle",
		Category:          "reconnaissance",
	}, fixedRand(0.5))
	if got != 1.5 {
		t.Fatalf("effectiveness=%v want=1.5", got)
	}
}

func TestComputeBurnPenalties(t *testing.T) {
	cases := []struct {
		state domain.BurnState
		want  float64
	}{
		{domain.BurnStateLow, 1.0},
		{domain.BurnStateModerate, 0.85},
		{domain.BurnStateHigh, 0.65},
		{domain.BurnStateCritical, 0.40},
		{domain.BurnState("bogus"), 1.0},
	}
	for _, tc := range cases {
		if got := BurnPenalty(tc.state); got != tc.want {
			t.Fatalf("penalty(%s)=%v want=%v", tc.state, got, tc.want)
		}
		got := Compute(Input{
			BaseEffectiveness: 1.0,
			Burn:              tc.state,
			Archetype:         "breaker",
			Category:          "unlisted",
		}, fixedRand(0.5))
		if got != tc.want {
			t.Fatalf("compute under %s=%v want=%v", tc.state, got, tc.want)
		}
	}
}

func TestComputeEnvironmentFactors(t *testing.T) {
	base := Input{
		BaseEffectiveness: 1.0,
		Burn:              domain.BurnStateLow,
		Archetype:         "unlisted",
		Category:          "unlisted",
	}

	boosted := base
	boosted.Environment = []string{"off_hours"}
	if got := Compute(boosted, fixedRand(0.5)); got != 1.15 {
		t.Fatalf("off_hours=%v want=1.15", got)
	}

	reduced := base
	reduced.Environment = []string{"target_hardened"}
	if got := Compute(reduced, fixedRand(0.5)); got != 0.75 {
		t.Fatalf("target_hardened=%v want=0.75", got)
	}

	ignored := base
	ignored.Environment = []string{"not_a_factor", "ports"}
	if got := Compute(ignored, fixedRand(0.5)); got != 1.0 {
		t.Fatalf("unrecognized keys=%v want=1.0", got)
	}
}

func TestComputeClampsBounds(t *testing.T) {
	high := Compute(Input{
		BaseEffectiveness: 3.0,
		Burn:              domain.BurnStateLow,
		Archetype:         "oracle",
		Category:          "reconnaissance",
	}, fixedRand(1.0))
	if high != MaxEffectiveness {
		t.Fatalf("high=%v want clamp to %v", high, MaxEffectiveness)
	}

	low := Compute(Input{
		BaseEffectiveness: 0.05,
		Burn:              domain.BurnStateCritical,
		Archetype:         "oracle",
		Category:          "exploitation",
	}, fixedRand(0.0))
	if low != MinEffectiveness {
		t.Fatalf("low=%v want clamp to %v", low, MinEffectiveness)
	}
}

func TestComputeRandomizationBounds(t *testing.T) {
	in := Input{
		BaseEffectiveness: 1.0,
		Burn:              domain.BurnStateLow,
		Archetype:         "unlisted",
		Category:          "unlisted",
	}
	lo := Compute(in, fixedRand(0.0))
	hi := Compute(in, fixedRand(0.999999))
	if lo != 0.95 {
		t.Fatalf("lower bound=%v want=0.95", lo)
	}
	if hi <= lo || hi >= 1.05 {
		t.Fatalf("upper bound=%v want in (0.95, 1.05)", hi)
	}
}
