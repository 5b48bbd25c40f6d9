package graph

import (
	"sort"

	"github.com/aristath/taskpilot/internal/task"
)

// TransitiveUnblocks returns the set of tasks directly or indirectly
// unblocked if the given task closes: BFS over reverse edges, deduplicated
// by a visited set so it terminates on any finite graph.
func (g *Graph) TransitiveUnblocks(id string) []string {
	visited := make(map[string]bool)
	queue := append([]string(nil), g.reverse[id]...)

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		queue = append(queue, g.reverse[next]...)
	}

	out := make([]string, 0, len(visited))
	for tid := range visited {
		out = append(out, tid)
	}
	sort.Strings(out)
	return out
}

// Blocker is an open task ranked by how much it holds up.
type Blocker struct {
	ID       string
	Unblocks int
}

// RootBlockers ranks open tasks by the number of tasks they transitively
// unblock, descending, ties broken by task ID ascending. Returns at most
// limit entries.
func (g *Graph) RootBlockers(limit int) []Blocker {
	var blockers []Blocker
	for id, t := range g.tasks {
		if t.Status != task.StatusOpen {
			continue
		}
		blockers = append(blockers, Blocker{ID: id, Unblocks: len(g.TransitiveUnblocks(id))})
	}

	sort.Slice(blockers, func(i, j int) bool {
		if blockers[i].Unblocks != blockers[j].Unblocks {
			return blockers[i].Unblocks > blockers[j].Unblocks
		}
		return blockers[i].ID < blockers[j].ID
	})

	if limit > 0 && len(blockers) > limit {
		blockers = blockers[:limit]
	}
	return blockers
}

// Chains enumerates the longest dependency chains (paths over forward
// edges), longest first, truncated to limit. Cycle members are cut from
// chain extension so the traversal never hangs on a cyclic snapshot.
func (g *Graph) Chains(limit int) [][]string {
	depth := make(map[string]int, len(g.tasks))
	next := make(map[string]string, len(g.tasks))

	var chains [][]string
	for id := range g.tasks {
		if g.tainted[id] {
			continue
		}
		g.chainDepth(id, depth, next)
	}

	for id := range g.tasks {
		if g.tainted[id] {
			continue
		}
		chain := []string{id}
		for cur := id; next[cur] != ""; cur = next[cur] {
			chain = append(chain, next[cur])
		}
		if len(chain) > 1 {
			chains = append(chains, chain)
		}
	}

	sort.Slice(chains, func(i, j int) bool {
		if len(chains[i]) != len(chains[j]) {
			return len(chains[i]) > len(chains[j])
		}
		return chains[i][0] < chains[j][0]
	})

	// Drop chains that are suffixes of a longer one already listed.
	seen := make(map[string]bool)
	var out [][]string
	for _, chain := range chains {
		if seen[chain[0]] {
			continue
		}
		for _, id := range chain {
			seen[id] = true
		}
		out = append(out, chain)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// chainDepth computes, iteratively with memoization, the length of the
// longest forward chain starting at id, recording the chosen next hop.
func (g *Graph) chainDepth(id string, depth map[string]int, next map[string]string) int {
	if d, ok := depth[id]; ok {
		return d
	}

	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		if _, done := depth[cur]; done {
			stack = stack[:len(stack)-1]
			continue
		}

		ready := true
		for _, dep := range g.forward[cur] {
			if g.tainted[dep] {
				continue
			}
			if _, done := depth[dep]; !done {
				stack = append(stack, dep)
				ready = false
			}
		}
		if !ready {
			continue
		}

		best, bestID := 0, ""
		for _, dep := range g.forward[cur] {
			if g.tainted[dep] {
				continue
			}
			if d := depth[dep] + 1; d > best || (d == best && bestID != "" && dep < bestID) {
				best, bestID = d, dep
			}
		}
		depth[cur] = best
		if bestID != "" {
			next[cur] = bestID
		}
		stack = stack[:len(stack)-1]
	}

	return depth[id]
}

// WouldBecomeReady returns the tasks directly unblocked by closing id whose
// every OTHER dependency is already closed in the snapshot.
func (g *Graph) WouldBecomeReady(id string) []string {
	var ready []string
	for _, dependent := range g.reverse[id] {
		t := g.tasks[dependent]
		if t.Status != task.StatusOpen {
			continue
		}
		allOthersClosed := true
		for _, dep := range g.forward[dependent] {
			if dep == id {
				continue
			}
			if !g.closed[dep] {
				allOthersClosed = false
				break
			}
		}
		if allOthersClosed {
			ready = append(ready, dependent)
		}
	}
	sort.Strings(ready)
	return ready
}

// Ready reports whether every dependency of the task is closed and the task
// is not downstream of a cycle.
func (g *Graph) Ready(id string) bool {
	if g.tainted[id] {
		return false
	}
	for _, dep := range g.forward[id] {
		if !g.closed[dep] {
			return false
		}
	}
	return true
}

// Neighbors returns every task sharing a dependency edge with id, in either
// direction. Used by the scheduler to build independent parallel batches.
func (g *Graph) Neighbors(id string) []string {
	seen := make(map[string]bool)
	for _, dep := range g.forward[id] {
		seen[dep] = true
	}
	for _, dependent := range g.reverse[id] {
		seen[dependent] = true
	}

	out := make([]string, 0, len(seen))
	for tid := range seen {
		out = append(out, tid)
	}
	sort.Strings(out)
	return out
}
