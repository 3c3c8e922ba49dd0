// Package engine is the mission orchestration core: it owns all active
// rounds, drives the round/phase state machine by time and by objective
// completion, and composes the dependency graph, the tool execution
// pipeline and the trace accumulator.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cyber_range/internal/agents"
	"cyber_range/internal/domain"
	"cyber_range/internal/graph"
	"cyber_range/internal/tools"
)

var (
	ErrRoundNotFound = errors.New("round not found")
	ErrTaskNotFound  = errors.New("task not found")
	ErrRoundIDInUse  = errors.New("round id already active")
	ErrUnknownPhase  = errors.New("unknown phase")
)

// Transition reasons reported in phase_transition events. When objective
// completion and time expiry fire together, objectives take precedence.
const (
	ReasonObjectivesComplete = "objectives_complete"
	ReasonTimeExpired        = "time_expired"
	ReasonRoundTimeout       = "round_timeout"
)

// Store archives rounds, events and execution records for post-mortem
// analysis. All writes are best-effort from the engine's perspective.
type Store interface {
	SaveRound(ctx context.Context, round domain.Round) error
	UpdateRound(ctx context.Context, round domain.Round) error
	AppendEvent(ctx context.Context, evt domain.Event) error
	AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error
	FinishRound(ctx context.Context, summary domain.RoundSummary) error
}

// Bus fans engine events out to external subscribers.
type Bus interface {
	Publish(evt domain.Event) error
}

// TraceAccumulator is the optional trace/burn collaborator. When nil, the
// engine falls back to a local per-round trace sum.
type TraceAccumulator interface {
	AccumulateTrace(roundID string, sample domain.TraceSample) (domain.TraceReport, error)
	TraceData(roundID string) (domain.TraceReport, error)
}

type Config struct {
	RoundDuration time.Duration
	PollInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RoundDuration <= 0 {
		c.RoundDuration = 60 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

type Engine struct {
	scenario domain.Scenario
	pipeline *tools.Pipeline
	store    Store
	bus      Bus
	traces   TraceAccumulator
	cfg      Config
	logger   *log.Logger
	now      func() time.Time

	wg sync.WaitGroup

	mu     sync.RWMutex
	rounds map[string]*roundState
}

// roundState is one isolated unit of mutable state. Mutating operations on
// the same round are serialized through its mutex; cross-round operations
// never take a global lock beyond the round-table map access.
type roundState struct {
	mu         sync.Mutex
	round      domain.Round
	graph      *graph.Graph
	events     []domain.Event
	localTrace int
}

func New(scenario domain.Scenario, pipeline *tools.Pipeline, store Store, bus Bus, traces TraceAccumulator, cfg Config, logger *log.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		scenario: scenario,
		pipeline: pipeline,
		store:    store,
		bus:      bus,
		traces:   traces,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		rounds:   make(map[string]*roundState),
	}
}

// Start launches the phase poller. The state machine is a pure function of
// "now" plus stored timestamps, so redundant or missed polls cannot corrupt
// round state.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.rounds))
	for id := range e.rounds {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		if _, err := e.UpdatePhase(ctx, id); err != nil && !errors.Is(err, ErrRoundNotFound) {
			e.logger.Printf("phase poll round=%s error: %v", id, err)
		}
	}
}

type StartRoundInput struct {
	RoundID  string
	RedTeam  string
	BlueTeam string
}

// StartRound creates a round, builds its dependency graph, and appends a
// round_started event. First-phase tasks with no prerequisites are
// immediately available.
func (e *Engine) StartRound(ctx context.Context, in StartRoundInput) (domain.Round, error) {
	if in.RoundID == "" {
		in.RoundID = uuid.NewString()
	}
	if in.RedTeam == "" {
		in.RedTeam = "red"
	}
	if in.BlueTeam == "" {
		in.BlueTeam = "blue"
	}
	if len(e.scenario.Phases) == 0 {
		return domain.Round{}, fmt.Errorf("scenario has no phases")
	}

	now := e.now().UTC()
	firstPhase := e.scenario.Phases[0]
	g := graph.New(e.scenario.Tasks, firstPhase.ID)
	for _, warning := range g.Warnings() {
		e.logger.Printf("round=%s graph warning: %s", in.RoundID, warning)
	}

	rs := &roundState{
		round: domain.Round{
			ID:             in.RoundID,
			Status:         domain.RoundStatusActive,
			RedTeam:        in.RedTeam,
			BlueTeam:       in.BlueTeam,
			CurrentPhase:   firstPhase.ID,
			StartedAt:      now,
			EndsAt:         now.Add(e.cfg.RoundDuration),
			PhaseStartedAt: now,
			SystemState:    make(map[string]any),
		},
		graph: g,
	}

	e.mu.Lock()
	if _, exists := e.rounds[in.RoundID]; exists {
		e.mu.Unlock()
		return domain.Round{}, fmt.Errorf("%w: %s", ErrRoundIDInUse, in.RoundID)
	}
	e.rounds[in.RoundID] = rs
	e.mu.Unlock()

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if e.store != nil {
		_ = e.store.SaveRound(ctx, rs.round)
	}
	e.appendEventLocked(ctx, rs, domain.EventRoundStarted, map[string]any{
		"red_team":  in.RedTeam,
		"blue_team": in.BlueTeam,
		"phase":     firstPhase.ID,
		"ends_at":   rs.round.EndsAt,
	})
	return copyRound(rs.round), nil
}

// activeRound resolves a round or reports ErrRoundNotFound. An ended round
// has been removed from the table and is indistinguishable from one that
// never existed.
func (e *Engine) activeRound(roundID string) (*roundState, error) {
	e.mu.RLock()
	rs, ok := e.rounds[roundID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}
	return rs, nil
}

type PhaseUpdate struct {
	Transitioned  bool                 `json:"transitioned"`
	PreviousPhase string               `json:"previous_phase,omitempty"`
	NewPhase      string               `json:"new_phase,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	UnlockedTasks []string             `json:"unlocked_tasks,omitempty"`
	RoundEnded    bool                 `json:"round_ended"`
	Summary       *domain.RoundSummary `json:"summary,omitempty"`
}

// UpdatePhase checks the two independent transition triggers for the
// current phase: time expiry and required-objective completion. Either one
// fires a transition; objective completion wins the reported reason when
// both hold. Past the final phase, or past the round deadline, the round
// ends instead.
func (e *Engine) UpdatePhase(ctx context.Context, roundID string) (PhaseUpdate, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return PhaseUpdate{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.round.Status != domain.RoundStatusActive {
		return PhaseUpdate{}, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}

	now := e.now().UTC()
	if !now.Before(rs.round.EndsAt) {
		summary := e.endLocked(ctx, rs, now)
		return PhaseUpdate{Reason: ReasonRoundTimeout, RoundEnded: true, Summary: &summary}, nil
	}

	phase, ok := e.phaseByID(rs.round.CurrentPhase)
	if !ok {
		return PhaseUpdate{}, fmt.Errorf("%w: %s", ErrUnknownPhase, rs.round.CurrentPhase)
	}

	objectivesDone := e.requiredCompleteLocked(rs, phase.ID)
	timeExpired := now.Sub(rs.round.PhaseStartedAt) >= phase.Duration
	if !objectivesDone && !timeExpired {
		return PhaseUpdate{}, nil
	}
	reason := ReasonTimeExpired
	if objectivesDone {
		reason = ReasonObjectivesComplete
	}
	return e.transitionLocked(ctx, rs, reason, now), nil
}

func (e *Engine) transitionLocked(ctx context.Context, rs *roundState, reason string, now time.Time) PhaseUpdate {
	next, ok := e.nextPhase(rs.round.CurrentPhase)
	if !ok {
		summary := e.endLocked(ctx, rs, now)
		return PhaseUpdate{Reason: reason, RoundEnded: true, Summary: &summary}
	}

	previous := rs.round.CurrentPhase
	rs.round.CurrentPhase = next.ID
	rs.round.PhaseStartedAt = now

	unlocked := rs.graph.UnlockPhase(next.ID)
	ids := taskIDs(unlocked)

	e.appendEventLocked(ctx, rs, domain.EventPhaseTransition, map[string]any{
		"previous_phase": previous,
		"new_phase":      next.ID,
		"reason":         reason,
		"unlocked_tasks": ids,
	})
	if e.store != nil {
		_ = e.store.UpdateRound(ctx, rs.round)
	}
	return PhaseUpdate{
		Transitioned:  true,
		PreviousPhase: previous,
		NewPhase:      next.ID,
		Reason:        reason,
		UnlockedTasks: ids,
	}
}

// endLocked finalizes the round and removes it from the active table. Ties
// resolve to blue: the winner check is strictly redScore > blueScore.
func (e *Engine) endLocked(ctx context.Context, rs *roundState, now time.Time) domain.RoundSummary {
	rs.round.Status = domain.RoundStatusCompleted

	winner := domain.TeamBlue
	if rs.round.RedScore > rs.round.BlueScore {
		winner = domain.TeamRed
	}
	summary := domain.RoundSummary{
		RoundID:        rs.round.ID,
		Winner:         winner,
		RedScore:       rs.round.RedScore,
		BlueScore:      rs.round.BlueScore,
		CompletedTasks: append([]string(nil), rs.round.CompletedTasks...),
		FinalPhase:     rs.round.CurrentPhase,
		Duration:       now.Sub(rs.round.StartedAt),
		EndedAt:        now,
	}

	e.appendEventLocked(ctx, rs, domain.EventRoundEnded, map[string]any{
		"summary": summary,
	})
	if e.store != nil {
		_ = e.store.FinishRound(ctx, summary)
	}
	e.pipeline.DropHistory(rs.round.ID)

	e.mu.Lock()
	delete(e.rounds, rs.round.ID)
	e.mu.Unlock()
	return summary
}

// EndRound finalizes a round on caller request and returns the terminal
// summary. The round rejects all further mutations afterwards.
func (e *Engine) EndRound(ctx context.Context, roundID string) (domain.RoundSummary, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return domain.RoundSummary{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.round.Status != domain.RoundStatusActive {
		return domain.RoundSummary{}, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}
	return e.endLocked(ctx, rs, e.now().UTC()), nil
}

type TaskCompletion struct {
	Completed     bool                    `json:"completed"`
	Validation    domain.ValidationResult `json:"validation"`
	TaskID        string                  `json:"task_id"`
	Team          domain.Team             `json:"team,omitempty"`
	Points        int                     `json:"points,omitempty"`
	UnlockedTasks []string                `json:"unlocked_tasks,omitempty"`
	PhaseChange   *PhaseUpdate            `json:"phase_change,omitempty"`
}

// CompleteTask validates against the dependency graph, credits the owning
// team, unlocks dependents and — when the just-completed task satisfies the
// current phase's required objectives — transitions the phase synchronously
// before returning, without waiting for the next poll. Unknown tasks are a
// hard error; other validation failures come back as structured results.
func (e *Engine) CompleteTask(ctx context.Context, roundID, taskID string, data domain.CompletionData) (TaskCompletion, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return TaskCompletion{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.round.Status != domain.RoundStatusActive {
		return TaskCompletion{}, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}

	validation := rs.graph.Validate(taskID, rs.graph.CompletedSet())
	if validation.Reason == domain.ValidationTaskNotFound {
		return TaskCompletion{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !validation.Valid {
		return TaskCompletion{Completed: false, Validation: validation, TaskID: taskID}, nil
	}

	task, _ := rs.graph.Task(taskID)
	points := e.scorePoints(task.TaskTemplate, rs.round.CurrentPhase, data)
	unlocked, err := rs.graph.CompleteAndUnlock(taskID)
	if err != nil {
		return TaskCompletion{}, err
	}

	if task.Team == domain.TeamRed {
		rs.round.RedScore += points
	} else {
		rs.round.BlueScore += points
	}
	rs.round.CompletedTasks = append(rs.round.CompletedTasks, taskID)

	ids := taskIDs(unlocked)
	e.appendEventLocked(ctx, rs, domain.EventTaskCompleted, map[string]any{
		"task_id":        taskID,
		"team":           task.Team,
		"points":         points,
		"unlocked_tasks": ids,
	})
	if e.store != nil {
		_ = e.store.UpdateRound(ctx, rs.round)
	}

	result := TaskCompletion{
		Completed:     true,
		Validation:    validation,
		TaskID:        taskID,
		Team:          task.Team,
		Points:        points,
		UnlockedTasks: ids,
	}
	if e.requiredCompleteLocked(rs, rs.round.CurrentPhase) {
		change := e.transitionLocked(ctx, rs, ReasonObjectivesComplete, e.now().UTC())
		result.PhaseChange = &change
	}
	return result, nil
}

// ValidateTaskCompletion is the query form of the graph check; every
// outcome, including an unknown task, is a structured result.
func (e *Engine) ValidateTaskCompletion(ctx context.Context, roundID, taskID string) (domain.ValidationResult, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.graph.Validate(taskID, rs.graph.CompletedSet()), nil
}

// scorePoints applies the phase escalation multiplier plus the optional
// speed and stealth bonuses. Stealth only credits the red team.
func (e *Engine) scorePoints(tpl domain.TaskTemplate, phaseID string, data domain.CompletionData) int {
	multiplier := 1.0
	if phase, ok := e.phaseByID(phaseID); ok {
		multiplier = phase.ScoreMultiplier
	}
	speed := 1.0 + 0.1*data.TimeBonus
	stealth := 1.0
	if tpl.Team == domain.TeamRed && data.StealthBonus > 0 {
		stealth = 1.0 + 0.05*data.StealthBonus
	}
	return int(math.Floor(float64(tpl.Points) * multiplier * speed * stealth))
}

type ToolOutcome struct {
	Result domain.ExecutionResult `json:"result"`
	Burn   *domain.TraceReport    `json:"burn,omitempty"`
}

// ExecuteTool resolves the agent identity, computes the red team's current
// burn state (blue is always treated as LOW), delegates to the execution
// pipeline, forwards red-team trace to the accumulator and merges any
// reported system-state changes into the round snapshot.
func (e *Engine) ExecuteTool(ctx context.Context, roundID, toolID, agentID, target string, params map[string]any) (ToolOutcome, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return ToolOutcome{}, err
	}
	agent, err := agents.Parse(agentID)
	if err != nil {
		return ToolOutcome{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.round.Status != domain.RoundStatusActive {
		return ToolOutcome{}, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}

	burn := domain.BurnStateLow
	if agent.Team == domain.TeamRed {
		burn = e.burnStateLocked(rs)
	}

	result, err := e.pipeline.Execute(tools.Request{
		RoundID: roundID,
		ToolID:  toolID,
		Agent:   agent,
		Target:  target,
		Params:  params,
		Burn:    burn,
	})
	if err != nil {
		return ToolOutcome{}, err
	}

	outcome := ToolOutcome{Result: result}
	switch result.Status {
	case domain.ExecStatusExecuted:
		e.appendEventLocked(ctx, rs, domain.EventToolExecuted, map[string]any{
			"tool_id":         toolID,
			"agent_id":        agentID,
			"success":         result.Success,
			"trace_generated": result.TraceGenerated,
		})
	case domain.ExecStatusExecutionFailed:
		e.appendEventLocked(ctx, rs, domain.EventToolExecutionError, map[string]any{
			"tool_id":  toolID,
			"agent_id": agentID,
			"error":    result.Error,
		})
	default:
		// Parameter and cooldown rejections are caller-actionable results,
		// not round events.
		return outcome, nil
	}

	if e.store != nil && result.RecordID != "" {
		_ = e.store.AppendExecution(ctx, domain.ExecutionRecord{
			ID:             result.RecordID,
			RoundID:        roundID,
			ToolID:         toolID,
			AgentID:        agentID,
			Target:         target,
			Success:        result.Success,
			TraceGenerated: result.TraceGenerated,
			Effectiveness:  result.Effectiveness,
			CreatedAt:      e.now().UTC(),
		})
	}

	if agent.Team == domain.TeamRed && result.TraceGenerated > 0 {
		tool, _ := e.pipeline.Tool(toolID)
		sample := domain.TraceSample{
			ToolID:          toolID,
			AgentType:       agent.Archetype,
			Category:        tool.Category,
			Observable:      result.Observable,
			Success:         result.Success,
			Effectiveness:   result.Effectiveness,
			TraceGeneration: result.TraceGenerated,
		}
		if e.traces != nil {
			report, accErr := e.traces.AccumulateTrace(roundID, sample)
			if accErr != nil {
				e.logger.Printf("trace accumulate round=%s tool=%s error: %v", roundID, toolID, accErr)
			} else {
				outcome.Burn = &report
			}
		} else {
			previous := domain.BurnStateForTrace(rs.localTrace)
			previousLevel := rs.localTrace / 50
			rs.localTrace += result.TraceGenerated
			report := domain.TraceReport{
				TraceGenerated:   result.TraceGenerated,
				CurrentTrace:     rs.localTrace,
				CurrentLevel:     rs.localTrace / 50,
				CurrentBurnState: domain.BurnStateForTrace(rs.localTrace),
			}
			report.LevelChanged = report.CurrentLevel != previousLevel
			report.BurnStateChanged = report.CurrentBurnState != previous
			outcome.Burn = &report
		}
	}

	if len(result.SystemStateChanges) > 0 {
		for key, value := range result.SystemStateChanges {
			rs.round.SystemState[key] = value
		}
		e.appendEventLocked(ctx, rs, domain.EventSystemStateChanged, map[string]any{
			"tool_id": toolID,
			"changes": result.SystemStateChanges,
		})
	}
	return outcome, nil
}

func (e *Engine) burnStateLocked(rs *roundState) domain.BurnState {
	if e.traces != nil {
		report, err := e.traces.TraceData(rs.round.ID)
		if err == nil {
			return report.CurrentBurnState
		}
		e.logger.Printf("trace data round=%s error: %v", rs.round.ID, err)
	}
	return domain.BurnStateForTrace(rs.localTrace)
}

type ToolAvailability struct {
	Tool             domain.Tool `json:"tool"`
	Ready            bool        `json:"ready"`
	RemainingSeconds float64     `json:"remaining_seconds,omitempty"`
}

// AvailableTools lists the registry entries matching the agent's team
// affinity together with per-agent cooldown status.
func (e *Engine) AvailableTools(ctx context.Context, roundID, agentID string) ([]ToolAvailability, error) {
	if _, err := e.activeRound(roundID); err != nil {
		return nil, err
	}
	agent, err := agents.Parse(agentID)
	if err != nil {
		return nil, err
	}
	affinity := domain.ToolAffinityDefensive
	if agent.Team == domain.TeamRed {
		affinity = domain.ToolAffinityOffensive
	}

	out := make([]ToolAvailability, 0)
	for _, tool := range e.pipeline.Tools() {
		if tool.Affinity != affinity {
			continue
		}
		remaining := e.pipeline.RemainingCooldown(agent.String(), tool.ID)
		out = append(out, ToolAvailability{
			Tool:             tool,
			Ready:            remaining == 0,
			RemainingSeconds: remaining.Seconds(),
		})
	}
	return out, nil
}

type RoundStatusView struct {
	Round          domain.Round     `json:"round"`
	AvailableTasks []domain.Task    `json:"available_tasks"`
	BurnState      domain.BurnState `json:"burn_state"`
}

func (e *Engine) RoundStatus(ctx context.Context, roundID string) (RoundStatusView, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return RoundStatusView{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return RoundStatusView{
		Round:          copyRound(rs.round),
		AvailableTasks: rs.graph.AvailableTasks(rs.graph.CompletedSet()),
		BurnState:      e.burnStateLocked(rs),
	}, nil
}

type Analytics struct {
	RoundID            string              `json:"round_id"`
	CurrentPhase       string              `json:"current_phase"`
	RedScore           int                 `json:"red_score"`
	BlueScore          int                 `json:"blue_score"`
	CompletedByTeam    map[domain.Team]int `json:"completed_by_team"`
	CriticalPath       []string            `json:"critical_path"`
	CriticalPathLength int                 `json:"critical_path_length"`
	Cycles             [][]string          `json:"cycles,omitempty"`
	Executions         int                 `json:"executions"`
	Successes          int                 `json:"successes"`
	SuccessRate        float64             `json:"success_rate"`
	Trace              domain.TraceReport  `json:"trace"`
	Events             int                 `json:"events"`
}

// RoundAnalytics aggregates live graph diagnostics, execution history and
// the trace snapshot for a running round.
func (e *Engine) RoundAnalytics(ctx context.Context, roundID string) (Analytics, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return Analytics{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	byTeam := map[domain.Team]int{domain.TeamRed: 0, domain.TeamBlue: 0}
	for _, task := range rs.graph.Tasks() {
		if task.Status == domain.TaskStatusCompleted {
			byTeam[task.Team]++
		}
	}
	path, length := rs.graph.CriticalPath()

	history := e.pipeline.History(roundID)
	successes := 0
	for _, rec := range history {
		if rec.Success {
			successes++
		}
	}
	successRate := 0.0
	if len(history) > 0 {
		successRate = float64(successes) / float64(len(history))
	}

	var report domain.TraceReport
	if e.traces != nil {
		if r, traceErr := e.traces.TraceData(roundID); traceErr == nil {
			report = r
		}
	} else {
		report = domain.TraceReport{
			CurrentTrace:     rs.localTrace,
			CurrentLevel:     rs.localTrace / 50,
			CurrentBurnState: domain.BurnStateForTrace(rs.localTrace),
		}
	}

	return Analytics{
		RoundID:            roundID,
		CurrentPhase:       rs.round.CurrentPhase,
		RedScore:           rs.round.RedScore,
		BlueScore:          rs.round.BlueScore,
		CompletedByTeam:    byTeam,
		CriticalPath:       path,
		CriticalPathLength: length,
		Cycles:             rs.graph.DetectCycles(),
		Executions:         len(history),
		Successes:          successes,
		SuccessRate:        successRate,
		Trace:              report,
		Events:             len(rs.events),
	}, nil
}

// RoundEvents returns a copy of a running round's append-only event log.
func (e *Engine) RoundEvents(roundID string) ([]domain.Event, error) {
	rs, err := e.activeRound(roundID)
	if err != nil {
		return nil, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]domain.Event(nil), rs.events...), nil
}

// ListRounds snapshots all active rounds, most recently started first.
func (e *Engine) ListRounds(ctx context.Context) []domain.Round {
	e.mu.RLock()
	states := make([]*roundState, 0, len(e.rounds))
	for _, rs := range e.rounds {
		states = append(states, rs)
	}
	e.mu.RUnlock()

	out := make([]domain.Round, 0, len(states))
	for _, rs := range states {
		rs.mu.Lock()
		out = append(out, copyRound(rs.round))
		rs.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (e *Engine) requiredCompleteLocked(rs *roundState, phaseID string) bool {
	completed := rs.graph.CompletedSet()
	for _, tpl := range e.scenario.Tasks {
		if tpl.Phase != phaseID || !tpl.Required {
			continue
		}
		if !completed[tpl.ID] {
			return false
		}
	}
	return true
}

func (e *Engine) phaseByID(id string) (domain.Phase, bool) {
	for _, phase := range e.scenario.Phases {
		if phase.ID == id {
			return phase, true
		}
	}
	return domain.Phase{}, false
}

func (e *Engine) nextPhase(current string) (domain.Phase, bool) {
	for i, phase := range e.scenario.Phases {
		if phase.ID == current {
			if i+1 < len(e.scenario.Phases) {
				return e.scenario.Phases[i+1], true
			}
			return domain.Phase{}, false
		}
	}
	return domain.Phase{}, false
}

func (e *Engine) appendEventLocked(ctx context.Context, rs *roundState, evtType domain.EventType, payload map[string]any) {
	evt := domain.Event{
		RoundID:   rs.round.ID,
		Type:      evtType,
		Payload:   mustJSON(payload),
		CreatedAt: e.now().UTC(),
	}
	rs.events = append(rs.events, evt)
	if e.bus != nil {
		if err := e.bus.Publish(evt); err != nil {
			e.logger.Printf("publish event round=%s type=%s error: %v", rs.round.ID, evtType, err)
		}
	}
	if e.store != nil {
		_ = e.store.AppendEvent(ctx, evt)
	}
}

func copyRound(r domain.Round) domain.Round {
	out := r
	out.CompletedTasks = append([]string(nil), r.CompletedTasks...)
	out.SystemState = make(map[string]any, len(r.SystemState))
	for k, v := range r.SystemState {
		out.SystemState[k] = v
	}
	return out
}

func taskIDs(tasks []domain.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
