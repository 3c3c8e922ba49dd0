package trace

import (
	"testing"

	"cyber_range/internal/domain"
)

func TestAccumulateTraceLevelsAndBurn(t *testing.T) {
	acc := NewAccumulator()

	report, err := acc.AccumulateTrace("r1", domain.TraceSample{ToolID: "nmap", TraceGeneration: 30})
	if err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if report.CurrentTrace != 30 || report.CurrentLevel != 0 {
		t.Fatalf("report=%+v want trace=30 level=0", report)
	}
	if report.CurrentBurnState != domain.BurnStateLow || report.BurnStateChanged {
		t.Fatalf("report=%+v want unchanged LOW", report)
	}

	// 30+40=70 crosses both the level-1 boundary (50) and the MODERATE
	// band (50..99).
	report, err = acc.AccumulateTrace("r1", domain.TraceSample{ToolID: "masscan", TraceGeneration: 40})
	if err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if report.CurrentTrace != 70 || report.CurrentLevel != 1 {
		t.Fatalf("report=%+v want trace=70 level=1", report)
	}
	if !report.LevelChanged {
		t.Fatalf("expected level change at 70")
	}
	if report.CurrentBurnState != domain.BurnStateModerate || !report.BurnStateChanged {
		t.Fatalf("report=%+v want changed MODERATE", report)
	}

	// 70+140=210 lands in CRITICAL.
	report, err = acc.AccumulateTrace("r1", domain.TraceSample{ToolID: "metasploit", TraceGeneration: 140})
	if err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if report.CurrentBurnState != domain.BurnStateCritical || !report.BurnStateChanged {
		t.Fatalf("report=%+v want changed CRITICAL", report)
	}
	if report.CurrentLevel != 4 {
		t.Fatalf("level=%d want=4", report.CurrentLevel)
	}
}

func TestAccumulateTraceRejectsNegative(t *testing.T) {
	acc := NewAccumulator()
	if _, err := acc.AccumulateTrace("r1", domain.TraceSample{TraceGeneration: -1}); err == nil {
		t.Fatalf("expected error for negative trace generation")
	}
	// The rejected sample must not have created tracking state.
	report, err := acc.TraceData("r1")
	if err != nil {
		t.Fatalf("trace data: %v", err)
	}
	if report.CurrentTrace != 0 {
		t.Fatalf("trace=%d want=0", report.CurrentTrace)
	}
}

func TestTraceDataUntrackedRound(t *testing.T) {
	acc := NewAccumulator()
	report, err := acc.TraceData("never_seen")
	if err != nil {
		t.Fatalf("trace data: %v", err)
	}
	if report.CurrentTrace != 0 || report.CurrentLevel != 0 {
		t.Fatalf("report=%+v want clean", report)
	}
	if report.CurrentBurnState != domain.BurnStateLow {
		t.Fatalf("burn=%s want=%s", report.CurrentBurnState, domain.BurnStateLow)
	}
}

func TestRoundsAreIsolated(t *testing.T) {
	acc := NewAccumulator()
	if _, err := acc.AccumulateTrace("r1", domain.TraceSample{TraceGeneration: 120}); err != nil {
		t.Fatalf("accumulate r1: %v", err)
	}
	report, err := acc.TraceData("r2")
	if err != nil {
		t.Fatalf("trace data r2: %v", err)
	}
	if report.CurrentTrace != 0 {
		t.Fatalf("r2 trace=%d want=0", report.CurrentTrace)
	}
}

func TestDropReleasesRound(t *testing.T) {
	acc := NewAccumulator()
	if _, err := acc.AccumulateTrace("r1", domain.TraceSample{TraceGeneration: 75}); err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	acc.Drop("r1")
	report, err := acc.TraceData("r1")
	if err != nil {
		t.Fatalf("trace data: %v", err)
	}
	if report.CurrentTrace != 0 || report.CurrentBurnState != domain.BurnStateLow {
		t.Fatalf("report=%+v want clean after drop", report)
	}
}
