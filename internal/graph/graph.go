// Package graph owns the per-round task dependency DAG: lock/unlock state,
// prerequisite validation, cycle diagnostics and critical-path analysis.
// One Graph instance belongs to exactly one round; callers serialize access
// per round, the graph itself holds no lock.
package graph

import (
	"fmt"
	"time"

	"cyber_range/internal/domain"
)

type Graph struct {
	tasks      map[string]*domain.Task
	order      []string
	prereqs    map[string][]string
	dependents map[string][]string
	completed  map[string]bool
	available  map[string]bool
	firstPhase string
	warnings   []string
	now        func() time.Time
}

// New builds a graph from a static task template list. Edges are recorded by
// ID, so forward references are tolerated regardless of insertion order; a
// prerequisite that never resolves produces a warning, not a failure. Tasks
// with zero prerequisites in the first phase start available, everything
// else starts locked. Both adjacency directions are built in a single pass
// after all nodes exist, so they cannot drift apart.
func New(templates []domain.TaskTemplate, firstPhase string) *Graph {
	g := &Graph{
		tasks:      make(map[string]*domain.Task, len(templates)),
		order:      make([]string, 0, len(templates)),
		prereqs:    make(map[string][]string, len(templates)),
		dependents: make(map[string][]string, len(templates)),
		completed:  make(map[string]bool),
		available:  make(map[string]bool),
		firstPhase: firstPhase,
		now:        time.Now,
	}

	for _, tpl := range templates {
		if _, exists := g.tasks[tpl.ID]; exists {
			g.warnings = append(g.warnings, fmt.Sprintf("duplicate task id %s ignored", tpl.ID))
			continue
		}
		g.tasks[tpl.ID] = &domain.Task{
			TaskTemplate: tpl,
			Status:       domain.TaskStatusLocked,
		}
		g.order = append(g.order, tpl.ID)
	}

	for _, id := range g.order {
		task := g.tasks[id]
		for _, dep := range task.Prerequisites {
			if _, ok := g.tasks[dep]; !ok {
				g.warnings = append(g.warnings, fmt.Sprintf("task %s references unknown prerequisite %s", id, dep))
				continue
			}
			g.prereqs[id] = append(g.prereqs[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	for _, id := range g.order {
		task := g.tasks[id]
		if len(g.prereqs[id]) == 0 && task.Phase == g.firstPhase {
			g.markAvailable(task)
		}
	}

	for _, id := range g.order {
		g.tasks[id].Dependents = append([]string(nil), g.dependents[id]...)
	}
	return g
}

// Warnings reports construction diagnostics such as dangling prerequisite
// references. A non-empty result indicates a scenario configuration problem.
func (g *Graph) Warnings() []string {
	return append([]string(nil), g.warnings...)
}

func (g *Graph) markAvailable(task *domain.Task) {
	task.Status = domain.TaskStatusAvailable
	ts := g.now().UTC()
	task.UnlockedAt = &ts
	g.available[task.ID] = true
}

// Task returns a copy of one task instance.
func (g *Graph) Task(taskID string) (domain.Task, bool) {
	task, ok := g.tasks[taskID]
	if !ok {
		return domain.Task{}, false
	}
	return *task, true
}

// Tasks returns copies of all tasks in insertion order.
func (g *Graph) Tasks() []domain.Task {
	out := make([]domain.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.tasks[id])
	}
	return out
}

// CompletedSet returns a copy of the completed task-ID set.
func (g *Graph) CompletedSet() map[string]bool {
	out := make(map[string]bool, len(g.completed))
	for id := range g.completed {
		out[id] = true
	}
	return out
}

// AvailableTasks returns tasks whose full prerequisite set is a subset of
// completedSet and whose stored available flag agrees. The two conditions
// must agree for a consistent graph; both are checked so a disagreement
// surfaces as a missing task in test assertions rather than a wrong unlock.
func (g *Graph) AvailableTasks(completedSet map[string]bool) []domain.Task {
	out := make([]domain.Task, 0)
	for _, id := range g.order {
		if !g.available[id] {
			continue
		}
		if !g.prereqsSatisfied(id, completedSet) {
			continue
		}
		out = append(out, *g.tasks[id])
	}
	return out
}

func (g *Graph) prereqsSatisfied(taskID string, completedSet map[string]bool) bool {
	for _, dep := range g.prereqs[taskID] {
		if !completedSet[dep] {
			return false
		}
	}
	return true
}

// CompleteAndUnlock marks the task completed and returns every dependent
// whose entire prerequisite set is now satisfied, in task insertion order.
// Completing an already-completed task is a no-op returning an empty list;
// callers must check before crediting points. Completion never reverts.
func (g *Graph) CompleteAndUnlock(taskID string) ([]domain.Task, error) {
	task, ok := g.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s not found in graph", taskID)
	}
	if g.completed[taskID] {
		return []domain.Task{}, nil
	}

	task.Status = domain.TaskStatusCompleted
	ts := g.now().UTC()
	task.CompletedAt = &ts
	g.completed[taskID] = true
	delete(g.available, taskID)

	unlocked := make([]domain.Task, 0)
	for _, depID := range g.dependents[taskID] {
		dep := g.tasks[depID]
		if dep.Status != domain.TaskStatusLocked {
			continue
		}
		if !g.prereqsSatisfied(depID, g.completed) {
			continue
		}
		g.markAvailable(dep)
		unlocked = append(unlocked, *dep)
	}
	return unlocked, nil
}

// UnlockPhase makes locked tasks of the given phase available when their
// full prerequisite set is already satisfied. This is how zero-prerequisite
// tasks outside the first phase enter play on a phase transition.
func (g *Graph) UnlockPhase(phase string) []domain.Task {
	unlocked := make([]domain.Task, 0)
	for _, id := range g.order {
		task := g.tasks[id]
		if task.Phase != phase || task.Status != domain.TaskStatusLocked {
			continue
		}
		if !g.prereqsSatisfied(id, g.completed) {
			continue
		}
		g.markAvailable(task)
		unlocked = append(unlocked, *task)
	}
	return unlocked
}

// Validate checks whether taskID can be completed given completedSet.
// Reasons are checked in priority order: task_not_found, already_completed,
// not_available, missing_prerequisites. Exactly one reason is reported.
func (g *Graph) Validate(taskID string, completedSet map[string]bool) domain.ValidationResult {
	task, ok := g.tasks[taskID]
	if !ok {
		return domain.ValidationResult{Reason: domain.ValidationTaskNotFound}
	}
	if g.completed[taskID] {
		return domain.ValidationResult{Reason: domain.ValidationAlreadyCompleted}
	}
	if task.Status != domain.TaskStatusAvailable {
		if missing := g.missingPrereqs(taskID, completedSet); len(missing) > 0 {
			return domain.ValidationResult{
				Reason:               domain.ValidationMissingPrerequisites,
				MissingPrerequisites: missing,
			}
		}
		return domain.ValidationResult{Reason: domain.ValidationNotAvailable}
	}
	if missing := g.missingPrereqs(taskID, completedSet); len(missing) > 0 {
		return domain.ValidationResult{
			Reason:               domain.ValidationMissingPrerequisites,
			MissingPrerequisites: missing,
		}
	}
	return domain.ValidationResult{Valid: true}
}

func (g *Graph) missingPrereqs(taskID string, completedSet map[string]bool) []string {
	var missing []string
	for _, dep := range g.prereqs[taskID] {
		if !completedSet[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

// DetectCycles runs a depth-first traversal with an explicit recursion
// stack; a back-edge to a node on the stack yields the stack slice from the
// repeated node to itself. Terminates on self-loops and disconnected
// graphs. A non-empty result means the scenario configuration is broken.
func (g *Graph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool, len(g.tasks))
	onStack := make(map[string]bool, len(g.tasks))
	stack := make([]string, 0, len(g.tasks))

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range g.prereqs[id] {
			if onStack[dep] {
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				cycle = append(cycle, dep)
				cycles = append(cycles, cycle)
				continue
			}
			if !visited[dep] {
				dfs(dep)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	for _, id := range g.order {
		if !visited[id] {
			dfs(id)
		}
	}
	return cycles
}

// CriticalPath returns the longest chain of prerequisite edges ending at a
// leaf (a task with zero prerequisites), as a path from leaf to chain end,
// plus its length in nodes. Depth per node is memoized, so the walk stays
// linear in edges; ties break toward the earliest task in insertion order.
func (g *Graph) CriticalPath() ([]string, int) {
	depth := make(map[string]int, len(g.tasks))
	next := make(map[string]string, len(g.tasks))

	var walk func(id string) int
	walk = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		depth[id] = 1 // guards against malformed cyclic input
		best := 1
		for _, dep := range g.prereqs[id] {
			if _, ok := g.tasks[dep]; !ok {
				continue
			}
			if d := walk(dep) + 1; d > best {
				best = d
				next[id] = dep
			}
		}
		depth[id] = best
		return best
	}

	bestEnd := ""
	bestLen := 0
	for _, id := range g.order {
		if d := walk(id); d > bestLen {
			bestLen = d
			bestEnd = id
		}
	}
	if bestEnd == "" {
		return nil, 0
	}

	reversed := make([]string, 0, bestLen)
	for id := bestEnd; ; {
		reversed = append(reversed, id)
		nxt, ok := next[id]
		if !ok {
			break
		}
		id = nxt
	}
	path := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path, bestLen
}
