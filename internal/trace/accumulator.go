// Package trace implements the trace/burn accumulator collaborator: an
// in-process risk score per round for the red team's observable actions.
package trace

import (
	"fmt"
	"sync"

	"cyber_range/internal/domain"
)

// Points of accumulated trace per detection level.
const pointsPerLevel = 50

type roundTrace struct {
	total int
	level int
	burn  domain.BurnState
}

type Accumulator struct {
	mu     sync.Mutex
	rounds map[string]*roundTrace
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		rounds: make(map[string]*roundTrace),
	}
}

// AccumulateTrace folds one sample into the round's running total and
// reports the resulting snapshot, including whether the detection level or
// burn state band moved. Rounds are tracked lazily on first accumulation.
func (a *Accumulator) AccumulateTrace(roundID string, sample domain.TraceSample) (domain.TraceReport, error) {
	if sample.TraceGeneration < 0 {
		return domain.TraceReport{}, fmt.Errorf("negative trace generation %d", sample.TraceGeneration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rt, ok := a.rounds[roundID]
	if !ok {
		rt = &roundTrace{burn: domain.BurnStateLow}
		a.rounds[roundID] = rt
	}

	rt.total += sample.TraceGeneration
	newLevel := rt.total / pointsPerLevel
	newBurn := domain.BurnStateForTrace(rt.total)

	report := domain.TraceReport{
		TraceGenerated:   sample.TraceGeneration,
		CurrentTrace:     rt.total,
		CurrentLevel:     newLevel,
		CurrentBurnState: newBurn,
		LevelChanged:     newLevel != rt.level,
		BurnStateChanged: newBurn != rt.burn,
	}
	rt.level = newLevel
	rt.burn = newBurn
	return report, nil
}

// TraceData returns the current snapshot for a round without mutating it.
// A round with no accumulated trace yet reports a clean LOW state.
func (a *Accumulator) TraceData(roundID string) (domain.TraceReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rt, ok := a.rounds[roundID]
	if !ok {
		return domain.TraceReport{CurrentBurnState: domain.BurnStateLow}, nil
	}
	return domain.TraceReport{
		CurrentTrace:     rt.total,
		CurrentLevel:     rt.level,
		CurrentBurnState: rt.burn,
	}, nil
}

// Drop releases a round's trace state once the round has ended.
func (a *Accumulator) Drop(roundID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rounds, roundID)
}
