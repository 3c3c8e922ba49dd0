// Package tools owns the tool registry, the per-agent cooldown registry and
// the execution pipeline that turns a tool invocation into a structured
// result. The domain effect itself is delegated to a system interactor.
package tools

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"cyber_range/internal/agents"
	"cyber_range/internal/domain"
	"cyber_range/internal/effect"
)

var ErrUnknownTool = errors.New("unknown tool")

func defaultRand() float64 {
	return rand.Float64()
}

// Interactor applies a tool's domain effect for one category. A returned
// error (or panic) is converted into a structured execution_failed result
// by the pipeline; a success=false result is a normal game outcome.
type Interactor interface {
	Apply(category string, target string, ctx domain.EffectContext) (domain.EffectResult, error)
}

// Request is one tool invocation. Agent identity arrives pre-parsed; burn
// state is computed by the caller from the agent's team.
type Request struct {
	RoundID string
	ToolID  string
	Agent   domain.AgentID
	Target  string
	Params  map[string]any
	Burn    domain.BurnState
}

type Config struct {
	Rand func() float64
	Now  func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Rand == nil {
		c.Rand = defaultRand
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Pipeline struct {
	registry   map[string]domain.Tool
	order      []string
	interactor Interactor
	rand       func() float64
	now        func() time.Time

	mu        sync.Mutex
	cooldowns map[string]time.Time
	history   map[string][]domain.ExecutionRecord
}

// NewPipeline builds the pipeline with a fixed tool registry. The registry
// is read-only after construction.
func NewPipeline(toolDefs []domain.Tool, interactor Interactor, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		registry:   make(map[string]domain.Tool, len(toolDefs)),
		order:      make([]string, 0, len(toolDefs)),
		interactor: interactor,
		rand:       cfg.Rand,
		now:        cfg.Now,
		cooldowns:  make(map[string]time.Time),
		history:    make(map[string][]domain.ExecutionRecord),
	}
	for _, tool := range toolDefs {
		if _, exists := p.registry[tool.ID]; exists {
			continue
		}
		p.registry[tool.ID] = tool
		p.order = append(p.order, tool.ID)
	}
	return p
}

// Tool looks up one registry entry.
func (p *Pipeline) Tool(toolID string) (domain.Tool, bool) {
	tool, ok := p.registry[toolID]
	return tool, ok
}

// Tools returns all registry entries in registration order.
func (p *Pipeline) Tools() []domain.Tool {
	out := make([]domain.Tool, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.registry[id])
	}
	return out
}

// RemainingCooldown reports how long until the agent may use the tool again.
func (p *Pipeline) RemainingCooldown(agentID, toolID string) time.Duration {
	tool, ok := p.registry[toolID]
	if !ok {
		return 0
	}
	p.mu.Lock()
	last, used := p.cooldowns[cooldownKey(agentID, toolID)]
	p.mu.Unlock()
	if !used {
		return 0
	}
	remaining := tool.Cooldown - p.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// History returns the append-only execution record list for a round.
func (p *Pipeline) History(roundID string) []domain.ExecutionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ExecutionRecord(nil), p.history[roundID]...)
}

// DropHistory releases the execution history of an ended round.
func (p *Pipeline) DropHistory(roundID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.history, roundID)
}

// Execute runs the full invocation pipeline: registry lookup, parameter
// validation, cooldown check, effectiveness computation, domain-effect
// delegation, trace accounting, cooldown stamping and history recording.
// Unknown tools are a hard error; everything else comes back as a
// structured result. The cooldown is consumed even when the domain effect
// reports failure, so a failed exploit still costs the cooldown.
func (p *Pipeline) Execute(req Request) (domain.ExecutionResult, error) {
	tool, ok := p.registry[req.ToolID]
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolID)
	}

	if missing := missingParams(tool, req.Params); len(missing) > 0 {
		return domain.ExecutionResult{
			Status:        domain.ExecStatusInvalidParameters,
			Error:         fmt.Sprintf("missing required parameters: %v", missing),
			MissingParams: missing,
			Observable:    tool.Observable,
		}, nil
	}

	now := p.now()
	key := cooldownKey(req.Agent.String(), req.ToolID)
	p.mu.Lock()
	last, used := p.cooldowns[key]
	p.mu.Unlock()
	if used {
		if remaining := tool.Cooldown - now.Sub(last); remaining > 0 {
			return domain.ExecutionResult{
				Status:           domain.ExecStatusCooldownActive,
				Error:            fmt.Sprintf("tool %s on cooldown for agent %s", tool.ID, req.Agent),
				RemainingSeconds: remaining.Seconds(),
				Observable:       tool.Observable,
			}, nil
		}
	}

	effectiveness := effect.Compute(effect.Input{
		BaseEffectiveness: tool.BaseEffectiveness,
		Burn:              req.Burn,
		Archetype:         req.Agent.Archetype,
		Category:          tool.Category,
		Environment:       paramKeys(req.Params),
	}, p.rand)

	effectResult, err := p.applyEffect(tool.Category, req.Target, domain.EffectContext{
		Effectiveness: effectiveness,
		Params:        req.Params,
	})
	if err != nil {
		// A noisy failed attempt still leaves partial evidence.
		result := domain.ExecutionResult{
			Status:         domain.ExecStatusExecutionFailed,
			Error:          err.Error(),
			TraceGenerated: tool.BaseTrace / 2,
			Observable:     tool.Observable,
			Effectiveness:  effectiveness,
		}
		result.RecordID = p.record(req, result)
		return result, nil
	}

	trace := p.traceGenerated(tool, effectiveness, req.Agent.Archetype)

	p.mu.Lock()
	p.cooldowns[key] = now
	p.mu.Unlock()

	result := domain.ExecutionResult{
		Status:             domain.ExecStatusExecuted,
		Success:            effectResult.Success,
		Output:             effectResult.Output,
		TraceGenerated:     trace,
		SystemStateChanges: effectResult.SystemStateChanges,
		Observable:         tool.Observable,
		Effectiveness:      effectiveness,
		CooldownSet:        true,
	}
	result.RecordID = p.record(req, result)
	return result, nil
}

func (p *Pipeline) applyEffect(category, target string, ctx domain.EffectContext) (result domain.EffectResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool effect panicked: %v", r)
		}
	}()
	return p.interactor.Apply(category, target, ctx)
}

func (p *Pipeline) traceGenerated(tool domain.Tool, effectiveness float64, archetype string) int {
	value := float64(tool.BaseTrace)
	if !tool.Observable {
		value *= 0.5
	}
	value *= effectiveness
	if archetype == agents.StealthArchetype {
		value *= 0.8
	}
	value *= 0.8 + 0.4*p.rand()
	trace := int(math.Floor(value))
	if trace < 0 {
		return 0
	}
	return trace
}

func (p *Pipeline) record(req Request, result domain.ExecutionResult) string {
	rec := domain.ExecutionRecord{
		ID:             uuid.NewString(),
		RoundID:        req.RoundID,
		ToolID:         req.ToolID,
		AgentID:        req.Agent.String(),
		Target:         req.Target,
		Success:        result.Success,
		TraceGenerated: result.TraceGenerated,
		Effectiveness:  result.Effectiveness,
		CreatedAt:      p.now().UTC(),
	}
	p.mu.Lock()
	p.history[req.RoundID] = append(p.history[req.RoundID], rec)
	p.mu.Unlock()
	return rec.ID
}

func missingParams(tool domain.Tool, params map[string]any) []string {
	var missing []string
	for _, name := range tool.RequiredParams {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func paramKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	return keys
}

func cooldownKey(agentID, toolID string) string {
	return agentID + "|" + toolID
}
