// Package scheduler decides which task runs next. It consumes an immutable
// graph built from a task snapshot and never mutates tasks itself; claiming
// happens through the task backend at execution time.
package scheduler

import (
	"sort"

	"github.com/aristath/taskpilot/internal/graph"
	"github.com/aristath/taskpilot/internal/task"
)

// State classifies the result of a selection pass. "None ready" (open tasks
// remain but every one is blocked or filtered out) is deliberately distinct
// from "all complete".
type State int

const (
	StateSelected State = iota
	StateNoneReady
	StateAllComplete
)

func (s State) String() string {
	switch s {
	case StateSelected:
		return "selected"
	case StateNoneReady:
		return "none-ready"
	case StateAllComplete:
		return "all-complete"
	}
	return "unknown"
}

// Selection is the outcome of a single-task pick.
type Selection struct {
	Task  *task.Task // Nil unless State == StateSelected
	State State
}

// Batch is the outcome of a parallel pick.
type Batch struct {
	Tasks     []*task.Task
	Shortfall int // How many fewer than requested were independent
	State     State
}

// Next selects the single best task to run: open, every dependency closed,
// matching the filter, lowest priority number first, ties broken by task ID.
// Dependencies strictly dominate priority: an urgent task with an unclosed
// dependency is never picked over a less urgent, fully unblocked one.
func Next(g *graph.Graph, f task.Filter) Selection {
	candidates := eligible(g, f)
	if len(candidates) > 0 {
		return Selection{Task: candidates[0], State: StateSelected}
	}

	if openRemain(g) {
		return Selection{State: StateNoneReady}
	}
	return Selection{State: StateAllComplete}
}

// NextBatch selects up to n mutually independent tasks: it repeatedly takes
// the next single-task candidate, then excludes anything sharing a
// dependency edge (in either direction) with an already-selected task. If
// fewer than n independent tasks exist it returns what it found and reports
// the shortfall.
func NextBatch(g *graph.Graph, f task.Filter, n int) Batch {
	candidates := eligible(g, f)
	if len(candidates) == 0 {
		if openRemain(g) {
			return Batch{Shortfall: n, State: StateNoneReady}
		}
		return Batch{Shortfall: n, State: StateAllComplete}
	}

	excluded := make(map[string]bool)
	var picked []*task.Task

	for _, c := range candidates {
		if len(picked) >= n {
			break
		}
		if excluded[c.ID] {
			continue
		}
		picked = append(picked, c)
		excluded[c.ID] = true
		for _, neighbor := range g.Neighbors(c.ID) {
			excluded[neighbor] = true
		}
	}

	return Batch{Tasks: picked, Shortfall: n - len(picked), State: StateSelected}
}

// eligible returns ready candidates in selection order.
func eligible(g *graph.Graph, f task.Filter) []*task.Task {
	var out []*task.Task
	for _, t := range g.Tasks() {
		if t.Status != task.StatusOpen {
			continue
		}
		if !f.Matches(t) {
			continue
		}
		if !g.Ready(t.ID) {
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// openRemain reports whether any open tasks exist at all (ignoring the
// filter): used to tell "none ready" apart from "all complete".
func openRemain(g *graph.Graph) bool {
	for _, t := range g.Tasks() {
		if t.Status == task.StatusOpen {
			return true
		}
	}
	return false
}
