package domain

import (
	"encoding/json"
	"time"
)

type Team string

const (
	TeamRed  Team = "red"
	TeamBlue Team = "blue"
)

type TaskStatus string

const (
	TaskStatusLocked    TaskStatus = "locked"
	TaskStatusAvailable TaskStatus = "available"
	TaskStatusCompleted TaskStatus = "completed"
)

type RoundStatus string

const (
	RoundStatusActive    RoundStatus = "active"
	RoundStatusCompleted RoundStatus = "completed"
)

type BurnState string

const (
	BurnStateLow      BurnState = "LOW"
	BurnStateModerate BurnState = "MODERATE"
	BurnStateHigh     BurnState = "HIGH"
	BurnStateCritical BurnState = "CRITICAL"
)

// BurnStateForTrace discretizes an accumulated trace total into a burn band.
func BurnStateForTrace(total int) BurnState {
	switch {
	case total < 50:
		return BurnStateLow
	case total < 100:
		return BurnStateModerate
	case total < 200:
		return BurnStateHigh
	default:
		return BurnStateCritical
	}
}

type ToolAffinity string

const (
	ToolAffinityOffensive ToolAffinity = "offensive"
	ToolAffinityDefensive ToolAffinity = "defensive"
)

type EventType string

const (
	EventRoundStarted       EventType = "round_started"
	EventPhaseTransition    EventType = "phase_transition"
	EventTaskCompleted      EventType = "task_completed"
	EventToolExecuted       EventType = "tool_executed"
	EventToolExecutionError EventType = "tool_execution_error"
	EventSystemStateChanged EventType = "system_state_changed"
	EventRoundEnded         EventType = "round_ended"
)

// TaskTemplate is the static definition of one objective inside a scenario.
type TaskTemplate struct {
	ID            string   `json:"id" toml:"id"`
	Name          string   `json:"name" toml:"name"`
	Phase         string   `json:"phase" toml:"phase"`
	Team          Team     `json:"team" toml:"team"`
	AgentType     string   `json:"agent_type,omitempty" toml:"agent_type"`
	Required      bool     `json:"required" toml:"required"`
	Points        int      `json:"points" toml:"points"`
	Prerequisites []string `json:"prerequisites,omitempty" toml:"prerequisites"`
}

// Task is the per-round instance of a template with its lifecycle state.
type Task struct {
	TaskTemplate
	Status      TaskStatus `json:"status"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Dependents  []string   `json:"dependents,omitempty"`
}

// Phase is a fixed ordered sub-interval of a round.
type Phase struct {
	ID              string        `json:"id"`
	Order           int           `json:"order"`
	Duration        time.Duration `json:"duration"`
	ScoreMultiplier float64       `json:"score_multiplier"`
}

// Tool is an immutable registry entry for an offensive or defensive action.
type Tool struct {
	ID                string        `json:"id"`
	Affinity          ToolAffinity  `json:"affinity"`
	Category          string        `json:"category"`
	Cooldown          time.Duration `json:"cooldown"`
	BaseEffectiveness float64       `json:"base_effectiveness"`
	BaseTrace         int           `json:"base_trace"`
	Observable        bool          `json:"observable"`
	RequiredParams    []string      `json:"required_params,omitempty"`
	OptionalParams    []string      `json:"optional_params,omitempty"`
}

// AgentID is the explicit identity of one agent instance. It is parsed once
// at the boundary and never re-derived from strings inside the engine.
type AgentID struct {
	Archetype string `json:"archetype"`
	Team      Team   `json:"team"`
	Instance  string `json:"instance"`
}

func (a AgentID) String() string {
	return a.Archetype + "-" + a.Instance
}

type Round struct {
	ID             string         `json:"id"`
	Status         RoundStatus    `json:"status"`
	RedTeam        string         `json:"red_team"`
	BlueTeam       string         `json:"blue_team"`
	RedScore       int            `json:"red_score"`
	BlueScore      int            `json:"blue_score"`
	CurrentPhase   string         `json:"current_phase"`
	StartedAt      time.Time      `json:"started_at"`
	EndsAt         time.Time      `json:"ends_at"`
	PhaseStartedAt time.Time      `json:"phase_started_at"`
	CompletedTasks []string       `json:"completed_tasks,omitempty"`
	SystemState    map[string]any `json:"system_state,omitempty"`
}

type RoundSummary struct {
	RoundID        string        `json:"round_id"`
	Winner         Team          `json:"winner"`
	RedScore       int           `json:"red_score"`
	BlueScore      int           `json:"blue_score"`
	CompletedTasks []string      `json:"completed_tasks,omitempty"`
	FinalPhase     string        `json:"final_phase"`
	Duration       time.Duration `json:"duration"`
	EndedAt        time.Time     `json:"ended_at"`
}

type Event struct {
	RoundID   string          `json:"round_id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ValidationResult is the structured outcome of a task-completion check.
// Exactly one reason is set when Valid is false.
type ValidationResult struct {
	Valid                bool     `json:"valid"`
	Reason               string   `json:"reason,omitempty"`
	MissingPrerequisites []string `json:"missing_prerequisites,omitempty"`
}

const (
	ValidationTaskNotFound         = "task_not_found"
	ValidationAlreadyCompleted     = "already_completed"
	ValidationNotAvailable         = "not_available"
	ValidationMissingPrerequisites = "missing_prerequisites"
)

// CompletionData carries optional caller-supplied bonus signals for a
// task completion. Zero values leave the corresponding multiplier at 1.0.
type CompletionData struct {
	TimeBonus    float64 `json:"time_bonus,omitempty"`
	StealthBonus float64 `json:"stealth_bonus,omitempty"`
}

type ExecStatus string

const (
	ExecStatusExecuted          ExecStatus = "executed"
	ExecStatusInvalidParameters ExecStatus = "invalid_parameters"
	ExecStatusCooldownActive    ExecStatus = "cooldown_active"
	ExecStatusExecutionFailed   ExecStatus = "execution_failed"
)

// ExecutionResult is the structured outcome of one tool invocation.
// RecordID is set when the invocation reached the domain effect and was
// recorded in the execution history.
type ExecutionResult struct {
	Status             ExecStatus     `json:"status"`
	RecordID           string         `json:"record_id,omitempty"`
	Success            bool           `json:"success"`
	Output             string         `json:"output,omitempty"`
	Error              string         `json:"error,omitempty"`
	MissingParams      []string       `json:"missing_params,omitempty"`
	RemainingSeconds   float64        `json:"remaining_seconds,omitempty"`
	TraceGenerated     int            `json:"trace_generated"`
	SystemStateChanges map[string]any `json:"system_state_changes,omitempty"`
	Observable         bool           `json:"observable"`
	Effectiveness      float64        `json:"effectiveness"`
	CooldownSet        bool           `json:"cooldown_set"`
}

type ExecutionRecord struct {
	ID             string    `json:"id"`
	RoundID        string    `json:"round_id"`
	ToolID         string    `json:"tool_id"`
	AgentID        string    `json:"agent_id"`
	Target         string    `json:"target"`
	Success        bool      `json:"success"`
	TraceGenerated int       `json:"trace_generated"`
	Effectiveness  float64   `json:"effectiveness"`
	CreatedAt      time.Time `json:"created_at"`
}

// EffectContext is handed to the system interactor together with the
// computed effectiveness for the invocation.
type EffectContext struct {
	Effectiveness float64        `json:"effectiveness"`
	Params        map[string]any `json:"params,omitempty"`
}

// EffectResult is what a system interactor reports back per invocation.
type EffectResult struct {
	Success            bool           `json:"success"`
	Output             string         `json:"output"`
	SystemStateChanges map[string]any `json:"system_state_changes,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// TraceSample is one accumulation input for the trace/burn collaborator.
type TraceSample struct {
	ToolID          string  `json:"tool_id"`
	AgentType       string  `json:"agent_type"`
	Category        string  `json:"category"`
	Observable      bool    `json:"observable"`
	Success         bool    `json:"success"`
	Effectiveness   float64 `json:"effectiveness"`
	TraceGeneration int     `json:"trace_generation"`
}

// TraceReport is the collaborator's snapshot after an accumulation.
type TraceReport struct {
	TraceGenerated   int       `json:"trace_generated"`
	CurrentTrace     int       `json:"current_trace"`
	CurrentLevel     int       `json:"current_level"`
	CurrentBurnState BurnState `json:"current_burn_state"`
	LevelChanged     bool      `json:"level_changed"`
	BurnStateChanged bool      `json:"burn_state_changed"`
}

// Scenario bundles the static configuration a round is instantiated from.
type Scenario struct {
	Name          string         `json:"name"`
	RoundDuration time.Duration  `json:"round_duration"`
	Phases        []Phase        `json:"phases"`
	Tasks         []TaskTemplate `json:"tasks"`
	Tools         []Tool         `json:"tools"`
}
