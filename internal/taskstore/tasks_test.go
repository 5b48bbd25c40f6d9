package taskstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/taskpilot/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory(context.Background())
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func seed(t *testing.T, s *Store, tasks ...*task.Task) {
	t.Helper()
	for _, tk := range tasks {
		if err := s.Save(context.Background(), tk); err != nil {
			t.Fatalf("Save(%s) failed: %v", tk.ID, err)
		}
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &task.Task{
		ID:        "7A1.1",
		Title:     "wire the parser",
		Status:    task.StatusOpen,
		Priority:  1,
		DependsOn: []string{},
		Epic:      "7A1",
		Labels:    []string{"backend", "parser"},
	}
	dep := &task.Task{ID: "7A1.0", Title: "schema", Status: task.StatusClosed}
	seed(t, s, dep)
	in.DependsOn = []string{"7A1.0"}
	seed(t, s, in)

	got, err := s.Get(ctx, "7A1.1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != in.Title || got.Status != task.StatusOpen || got.Priority != 1 || got.Epic != "7A1" {
		t.Errorf("got %+v", got)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "7A1.0" {
		t.Errorf("DependsOn = %v", got.DependsOn)
	}
	if len(got.Labels) != 2 {
		t.Errorf("Labels = %v", got.Labels)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestSaveUpsertReplacesDepsAndLabels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s,
		&task.Task{ID: "a", Title: "a", Status: task.StatusClosed},
		&task.Task{ID: "b", Title: "b", Status: task.StatusClosed},
	)
	tk := &task.Task{ID: "c", Title: "c", Status: task.StatusOpen, DependsOn: []string{"a"}, Labels: []string{"x"}}
	seed(t, s, tk)

	tk.DependsOn = []string{"b"}
	tk.Labels = []string{"y", "z"}
	seed(t, s, tk)

	got, err := s.Get(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "b" {
		t.Errorf("DependsOn = %v, want [b]", got.DependsOn)
	}
	if len(got.Labels) != 2 {
		t.Errorf("Labels = %v, want [y z]", got.Labels)
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s,
		&task.Task{ID: "1", Title: "one", Status: task.StatusOpen, Epic: "e1", Labels: []string{"go"}},
		&task.Task{ID: "2", Title: "two", Status: task.StatusClosed, Epic: "e1"},
		&task.Task{ID: "3", Title: "three", Status: task.StatusOpen, Epic: "e2", Labels: []string{"go", "cli"}},
	)

	tests := []struct {
		name   string
		filter task.Filter
		want   []string
	}{
		{"all", task.Filter{}, []string{"1", "2", "3"}},
		{"open only", task.Filter{Status: task.StatusOpen}, []string{"1", "3"}},
		{"by epic", task.Filter{Epic: "e1"}, []string{"1", "2"}},
		{"by label", task.Filter{Labels: []string{"go", "cli"}}, []string{"3"}},
		{"exclude", task.Filter{Exclude: map[string]bool{"2": true}}, []string{"1", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List returned %d tasks, want %d", len(got), len(tt.want))
			}
			for i, tk := range got {
				if tk.ID != tt.want[i] {
					t.Errorf("List[%d] = %s, want %s", i, tk.ID, tt.want[i])
				}
			}
		})
	}
}

func TestClaimIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, &task.Task{ID: "t", Title: "t", Status: task.StatusOpen})

	ok, err := s.Claim(ctx, "t")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !ok {
		t.Fatal("first Claim = false, want true")
	}

	// The second claimer loses.
	ok, err = s.Claim(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second Claim = true, want false")
	}

	got, err := s.Get(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusInProgress {
		t.Errorf("Status = %s, want in_progress", got.Status)
	}
}

func TestClaimMissingTask(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.Claim(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if ok {
		t.Error("claimed a task that does not exist")
	}
}

func TestCloseAndReopen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, &task.Task{ID: "t", Title: "t", Status: task.StatusOpen})

	if err := s.Close(ctx, "t"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "t")
	if got.Status != task.StatusClosed {
		t.Errorf("Status = %s, want closed", got.Status)
	}

	if err := s.Reopen(ctx, "t"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "t")
	if got.Status != task.StatusOpen {
		t.Errorf("Status = %s, want open", got.Status)
	}

	if err := s.Close(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Close(ghost) = %v, want ErrNotFound", err)
	}
}
