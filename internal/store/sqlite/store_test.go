package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"cyber_range/internal/domain"
)

func TestRoundLifecyclePersistence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	roundID := uuid.NewString()
	started := time.Now().UTC().Truncate(time.Second)
	if err := store.SaveRound(ctx, domain.Round{
		ID:           roundID,
		Status:       domain.RoundStatusActive,
		RedTeam:      "crimson",
		BlueTeam:     "azure",
		CurrentPhase: "initial_access",
		StartedAt:    started,
		EndsAt:       started.Add(time.Hour),
	}); err != nil {
		t.Fatalf("save round: %v", err)
	}

	if err := store.UpdateRound(ctx, domain.Round{
		ID:           roundID,
		Status:       domain.RoundStatusActive,
		RedScore:     150,
		BlueScore:    100,
		CurrentPhase: "escalation",
	}); err != nil {
		t.Fatalf("update round: %v", err)
	}

	got, err := store.GetRound(ctx, roundID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.RedScore != 150 || got.BlueScore != 100 {
		t.Fatalf("scores=%d/%d want=150/100", got.RedScore, got.BlueScore)
	}
	if got.CurrentPhase != "escalation" {
		t.Fatalf("phase=%s want=escalation", got.CurrentPhase)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started_at=%v want=%v", got.StartedAt, started)
	}

	ended := started.Add(30 * time.Minute)
	if err := store.FinishRound(ctx, domain.RoundSummary{
		RoundID:    roundID,
		Winner:     domain.TeamRed,
		RedScore:   310,
		BlueScore:  240,
		FinalPhase: "impact_recovery",
		EndedAt:    ended,
	}); err != nil {
		t.Fatalf("finish round: %v", err)
	}

	got, err = store.GetRound(ctx, roundID)
	if err != nil {
		t.Fatalf("get finished round: %v", err)
	}
	if got.Status != domain.RoundStatusCompleted {
		t.Fatalf("status=%s want=%s", got.Status, domain.RoundStatusCompleted)
	}
	if got.RedScore != 310 || got.BlueScore != 240 {
		t.Fatalf("final scores=%d/%d want=310/240", got.RedScore, got.BlueScore)
	}
}

func TestGetRoundNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetRound(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestEventLogOrderedByTime(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	roundID := uuid.NewString()
	started := time.Now().UTC()
	if err := store.SaveRound(ctx, domain.Round{
		ID:           roundID,
		Status:       domain.RoundStatusActive,
		RedTeam:      "red",
		BlueTeam:     "blue",
		CurrentPhase: "initial_access",
		StartedAt:    started,
		EndsAt:       started.Add(time.Hour),
	}); err != nil {
		t.Fatalf("save round: %v", err)
	}

	types := []domain.EventType{
		domain.EventRoundStarted,
		domain.EventTaskCompleted,
		domain.EventPhaseTransition,
	}
	for i, typ := range types {
		if err := store.AppendEvent(ctx, domain.Event{
			RoundID:   roundID,
			Type:      typ,
			Payload:   []byte(`{}`),
			CreatedAt: started.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append event %s: %v", typ, err)
		}
	}

	events, err := store.ListRoundEvents(ctx, roundID, 0)
	if err != nil {
		t.Fatalf("list round events: %v", err)
	}
	if len(events) != len(types) {
		t.Fatalf("events=%d want=%d", len(events), len(types))
	}
	for i, evt := range events {
		if evt.Type != types[i] {
			t.Fatalf("event[%d]=%s want=%s", i, evt.Type, types[i])
		}
	}
}

func TestExecutionHistoryPersistence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	roundID := uuid.NewString()
	started := time.Now().UTC()
	if err := store.SaveRound(ctx, domain.Round{
		ID:           roundID,
		Status:       domain.RoundStatusActive,
		RedTeam:      "red",
		BlueTeam:     "blue",
		CurrentPhase: "initial_access",
		StartedAt:    started,
		EndsAt:       started.Add(time.Hour),
	}); err != nil {
		t.Fatalf("save round: %v", err)
	}

	rec := domain.ExecutionRecord{
		ID:             uuid.NewString(),
		RoundID:        roundID,
		ToolID:         "nmap",
		AgentID:        "oracle-1",
		Target:         "10.0.0.5",
		Success:        true,
		TraceGenerated: 9,
		Effectiveness:  1.42,
		CreatedAt:      started,
	}
	if err := store.AppendExecution(ctx, rec); err != nil {
		t.Fatalf("append execution: %v", err)
	}

	recs, err := store.ListRoundExecutions(ctx, roundID, 0)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("executions=%d want=1", len(recs))
	}
	got := recs[0]
	if got.ID != rec.ID || got.ToolID != "nmap" || got.AgentID != "oracle-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.Success || got.TraceGenerated != 9 {
		t.Fatalf("success=%v trace=%d want=true/9", got.Success, got.TraceGenerated)
	}
	if got.Effectiveness != 1.42 {
		t.Fatalf("effectiveness=%v want=1.42", got.Effectiveness)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}
