package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/taskpilot/internal/task"
)

// Graph is an immutable dependency graph built from a task snapshot.
// Forward edges point from a task to the tasks it depends on; reverse edges
// point from a task to the tasks that depend on it. A stale graph is simply
// discarded and rebuilt from a fresh snapshot on the next scheduling cycle.
type Graph struct {
	tasks   map[string]*task.Task
	forward map[string][]string // task -> its dependencies
	reverse map[string][]string // task -> its dependents
	closed  map[string]bool
	cycle   []string        // One detected cycle, nil if acyclic
	tainted map[string]bool // Tasks on or downstream of a cycle
}

// CycleError reports a dependency cycle. Cycles are surfaced, never
// auto-broken; tasks downstream of one are permanently unready.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

// Build constructs a graph from a task snapshot. Every edge endpoint must
// reference a task present in the snapshot; a dangling reference is a
// validation error, not a silently dropped edge. A cyclic snapshot is NOT a
// build error: the cycle is recorded and exposed via Cycle/Tainted so the
// scheduler can treat affected tasks as data errors without crashing the run.
func Build(tasks []*task.Task) (*Graph, error) {
	g := &Graph{
		tasks:   make(map[string]*task.Task, len(tasks)),
		forward: make(map[string][]string),
		reverse: make(map[string][]string),
		closed:  make(map[string]bool),
	}

	for _, t := range tasks {
		if _, exists := g.tasks[t.ID]; exists {
			return nil, fmt.Errorf("duplicate task ID %q in snapshot", t.ID)
		}
		g.tasks[t.ID] = t.Clone()
		if t.Status == task.StatusClosed {
			g.closed[t.ID] = true
		}
	}

	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", t.ID, depID)
			}
			g.forward[t.ID] = append(g.forward[t.ID], depID)
			g.reverse[depID] = append(g.reverse[depID], t.ID)
		}
	}

	g.cycle = g.findCycle()
	g.tainted = g.findTainted()

	return g, nil
}

// Task returns the snapshot copy of a task.
func (g *Graph) Task(id string) (*task.Task, bool) {
	t, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns all snapshot tasks in ID order.
func (g *Graph) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Closed reports whether the snapshot shows the task as closed.
func (g *Graph) Closed(id string) bool {
	return g.closed[id]
}

// HasCycle reports whether the snapshot contains a dependency cycle.
func (g *Graph) HasCycle() bool {
	return g.cycle != nil
}

// Cycle returns a CycleError naming one detected cycle, or nil.
func (g *Graph) Cycle() *CycleError {
	if g.cycle == nil {
		return nil
	}
	return &CycleError{Members: append([]string(nil), g.cycle...)}
}

// Tainted reports whether the task is on a cycle or depends (transitively)
// on one. Tainted tasks can never become ready.
func (g *Graph) Tainted(id string) bool {
	return g.tainted[id]
}

// DFS colors for cycle detection.
const (
	white = iota // Unvisited
	gray         // On the current DFS path
	black        // Fully explored
)

// findCycle runs an iterative three-color DFS over forward edges. Reaching a
// gray node again signals a cycle; the members are recovered from the
// explicit stack. Iterative on purpose: recursion could overflow on
// pathological snapshots.
func (g *Graph) findCycle() []string {
	color := make(map[string]int, len(g.tasks))

	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type frame struct {
		id   string
		next int // Index of the next forward edge to follow
	}

	for _, start := range ids {
		if color[start] != white {
			continue
		}

		stack := []frame{{id: start}}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.forward[top.id]

			if top.next >= len(deps) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			dep := deps[top.next]
			top.next++

			switch color[dep] {
			case white:
				color[dep] = gray
				stack = append(stack, frame{id: dep})
			case gray:
				// Cycle found: everything on the stack from dep onward.
				var members []string
				for i := range stack {
					if stack[i].id == dep || len(members) > 0 {
						members = append(members, stack[i].id)
					}
				}
				return append(members, dep)
			}
		}
	}

	return nil
}

// findTainted collects cycle members plus everything that transitively
// depends on them (BFS over reverse edges).
func (g *Graph) findTainted() map[string]bool {
	tainted := make(map[string]bool)
	if g.cycle == nil {
		return tainted
	}

	queue := make([]string, 0, len(g.cycle))
	for _, id := range g.cycle {
		if !tainted[id] {
			tainted[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dependent := range g.reverse[id] {
			if !tainted[dependent] {
				tainted[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	return tainted
}

// Order returns a topological execution order of all task IDs.
// Fails on cyclic snapshots.
func (g *Graph) Order() ([]string, error) {
	if g.cycle != nil {
		return nil, g.Cycle()
	}

	var edges []toposort.Edge
	for id := range g.tasks {
		deps := g.forward[id]
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("topological sort: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}
