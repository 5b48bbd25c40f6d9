package scheduler

import (
	"testing"

	"github.com/aristath/taskpilot/internal/graph"
	"github.com/aristath/taskpilot/internal/task"
)

func mkTask(id string, status task.Status, priority int, deps ...string) *task.Task {
	return &task.Task{ID: id, Title: id, Status: status, Priority: priority, DependsOn: deps}
}

func build(t *testing.T, tasks ...*task.Task) *graph.Graph {
	t.Helper()
	g, err := graph.Build(tasks)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

// Dependencies dominate priority: the urgent task blocked by a lower
// priority one waits until its dependency closes.
func TestNextDependencyDominatesPriority(t *testing.T) {
	a := mkTask("A", task.StatusOpen, 0)
	b := mkTask("B", task.StatusOpen, 1)
	d := mkTask("D", task.StatusOpen, 0, "B")

	g := build(t, a, b, d)

	sel := Next(g, task.Filter{})
	if sel.State != StateSelected || sel.Task.ID != "A" {
		t.Fatalf("first pick = %+v, want A", sel)
	}

	// A closes.
	a.Status = task.StatusClosed
	g = build(t, a, b, d)
	sel = Next(g, task.Filter{})
	if sel.Task == nil || sel.Task.ID != "B" {
		t.Fatalf("second pick = %+v, want B (D is blocked despite higher priority)", sel)
	}

	// B closes, D becomes ready.
	b.Status = task.StatusClosed
	g = build(t, a, b, d)
	sel = Next(g, task.Filter{})
	if sel.Task == nil || sel.Task.ID != "D" {
		t.Fatalf("third pick = %+v, want D", sel)
	}
}

func TestNextTieBreaksOnID(t *testing.T) {
	g := build(t,
		mkTask("b", task.StatusOpen, 1),
		mkTask("a", task.StatusOpen, 1),
	)
	sel := Next(g, task.Filter{})
	if sel.Task == nil || sel.Task.ID != "a" {
		t.Errorf("pick = %+v, want a (ID tie-break)", sel)
	}
}

func TestNextStates(t *testing.T) {
	t.Run("all complete", func(t *testing.T) {
		g := build(t, mkTask("a", task.StatusClosed, 1))
		if sel := Next(g, task.Filter{}); sel.State != StateAllComplete {
			t.Errorf("State = %v, want all-complete", sel.State)
		}
	})

	t.Run("none ready", func(t *testing.T) {
		g := build(t,
			mkTask("a", task.StatusInProgress, 1),
			mkTask("b", task.StatusOpen, 1, "a"),
		)
		if sel := Next(g, task.Filter{}); sel.State != StateNoneReady {
			t.Errorf("State = %v, want none-ready", sel.State)
		}
	})

	t.Run("cycle members never selected", func(t *testing.T) {
		g := build(t,
			mkTask("a", task.StatusOpen, 0, "b"),
			mkTask("b", task.StatusOpen, 0, "a"),
		)
		if sel := Next(g, task.Filter{}); sel.State != StateNoneReady {
			t.Errorf("State = %v, want none-ready for fully cyclic backlog", sel.State)
		}
	})
}

func TestNextHonorsFilter(t *testing.T) {
	g := build(t,
		mkTask("a", task.StatusOpen, 0),
		mkTask("b", task.StatusOpen, 1),
	)
	f := task.Filter{Labels: []string{"backend"}}
	if sel := Next(g, f); sel.State != StateNoneReady {
		t.Errorf("State = %v, want none-ready when filter matches nothing", sel.State)
	}

	f = task.Filter{Exclude: map[string]bool{"a": true}}
	if sel := Next(g, f); sel.Task == nil || sel.Task.ID != "b" {
		t.Errorf("pick = %+v, want b with a excluded", sel)
	}
}

// Tasks 1 and 2 are linked, 3, 4, 5 are mutually independent: a batch of
// three must never contain both 1 and 2.
func TestNextBatchIndependence(t *testing.T) {
	g := build(t,
		mkTask("t1", task.StatusOpen, 0),
		mkTask("t2", task.StatusOpen, 0, "t1"),
		mkTask("t3", task.StatusOpen, 1),
		mkTask("t4", task.StatusOpen, 1),
		mkTask("t5", task.StatusOpen, 1),
	)

	batch := NextBatch(g, task.Filter{}, 3)
	if batch.State != StateSelected {
		t.Fatalf("State = %v, want selected", batch.State)
	}
	if len(batch.Tasks) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch.Tasks))
	}

	got := make(map[string]bool)
	for _, bt := range batch.Tasks {
		got[bt.ID] = true
	}
	if got["t2"] {
		t.Error("batch contains t2, which depends on selected t1")
	}
	if !got["t1"] {
		t.Error("batch missing t1, the highest priority ready task")
	}
}

func TestNextBatchShortfall(t *testing.T) {
	g := build(t,
		mkTask("a", task.StatusOpen, 0),
		mkTask("b", task.StatusOpen, 1, "a"),
	)

	batch := NextBatch(g, task.Filter{}, 4)
	if len(batch.Tasks) != 1 || batch.Tasks[0].ID != "a" {
		t.Fatalf("batch = %v, want just a", batch.Tasks)
	}
	if batch.Shortfall != 3 {
		t.Errorf("Shortfall = %d, want 3", batch.Shortfall)
	}
}

func TestNextBatchStates(t *testing.T) {
	g := build(t, mkTask("a", task.StatusClosed, 1))
	if b := NextBatch(g, task.Filter{}, 2); b.State != StateAllComplete {
		t.Errorf("State = %v, want all-complete", b.State)
	}

	g = build(t, mkTask("a", task.StatusOpen, 1, "b"), mkTask("b", task.StatusInProgress, 1))
	if b := NextBatch(g, task.Filter{}, 2); b.State != StateNoneReady {
		t.Errorf("State = %v, want none-ready", b.State)
	}
}
