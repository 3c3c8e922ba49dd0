// Package effect computes the bounded effectiveness multiplier applied to
// every tool invocation. Pure functions only; randomness is injected.
package effect

import (
	"cyber_range/internal/agents"
	"cyber_range/internal/domain"
)

const (
	MinEffectiveness = 0.1
	MaxEffectiveness = 2.0
)

var burnPenalties = map[domain.BurnState]float64{
	domain.BurnStateLow:      1.0,
	domain.BurnStateModerate: 0.85,
	domain.BurnStateHigh:     0.65,
	domain.BurnStateCritical: 0.40,
}

// environmentFactors is the static table of recognized environmental keys.
// A key is applied only when it appears both here and in the caller context;
// absent keys contribute a 1.0 multiplier.
var environmentFactors = map[string]float64{
	"network_noise":     1.1,
	"off_hours":         1.15,
	"target_hardened":   0.75,
	"monitoring_active": 0.85,
	"segment_isolated":  0.7,
}

type Input struct {
	BaseEffectiveness float64
	Burn              domain.BurnState
	Archetype         string
	Category          string
	Environment       []string
}

// BurnPenalty returns the effectiveness penalty for a burn state. Unknown
// states are treated as LOW.
func BurnPenalty(state domain.BurnState) float64 {
	if p, ok := burnPenalties[state]; ok {
		return p
	}
	return 1.0
}

// Compute composes base effectiveness with the burn penalty, the agent
// specialization multiplier, every recognized environmental factor, and a
// bounded randomization in [0.95, 1.05). The result is clamped to
// [MinEffectiveness, MaxEffectiveness]. rnd must return a uniform value in
// [0, 1); pass a fixed function in tests for determinism.
func Compute(in Input, rnd func() float64) float64 {
	value := in.BaseEffectiveness
	value *= BurnPenalty(in.Burn)
	value *= agents.Multiplier(in.Archetype, in.Category)
	for _, key := range in.Environment {
		if factor, ok := environmentFactors[key]; ok {
			value *= factor
		}
	}
	value *= 0.95 + 0.1*rnd()
	return clamp(value)
}

func clamp(v float64) float64 {
	if v < MinEffectiveness {
		return MinEffectiveness
	}
	if v > MaxEffectiveness {
		return MaxEffectiveness
	}
	return v
}
