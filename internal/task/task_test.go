package task

import (
	"reflect"
	"testing"
)

func TestFilterMatches(t *testing.T) {
	tk := &Task{
		ID:     "7A1.3",
		Status: StatusOpen,
		Epic:   "7A1",
		Labels: []string{"backend", "urgent"},
	}

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"zero filter matches all", Filter{}, true},
		{"status match", Filter{Status: StatusOpen}, true},
		{"status mismatch", Filter{Status: StatusClosed}, false},
		{"epic match", Filter{Epic: "7A1"}, true},
		{"epic mismatch", Filter{Epic: "7A2"}, false},
		{"single label", Filter{Labels: []string{"backend"}}, true},
		{"all labels required", Filter{Labels: []string{"backend", "urgent"}}, true},
		{"missing label", Filter{Labels: []string{"backend", "frontend"}}, false},
		{"excluded", Filter{Exclude: map[string]bool{"7A1.3": true}}, false},
		{"exclude wins over match", Filter{Status: StatusOpen, Exclude: map[string]bool{"7A1.3": true}}, false},
		{"exclude other task", Filter{Exclude: map[string]bool{"7A1.4": true}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Matches(tk); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasLabel(t *testing.T) {
	tk := &Task{Labels: []string{"a", "b"}}
	if !tk.HasLabel("a") || !tk.HasLabel("b") {
		t.Error("existing labels not found")
	}
	if tk.HasLabel("c") {
		t.Error("missing label reported present")
	}
	if (&Task{}).HasLabel("a") {
		t.Error("label found on task with no labels")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Task{
		ID:        "T1",
		Title:     "original",
		Status:    StatusOpen,
		DependsOn: []string{"T0"},
		Labels:    []string{"x"},
	}

	cp := orig.Clone()
	if !reflect.DeepEqual(orig, cp) {
		t.Fatalf("clone differs: %+v vs %+v", orig, cp)
	}

	cp.DependsOn[0] = "changed"
	cp.Labels[0] = "changed"
	if orig.DependsOn[0] != "T0" || orig.Labels[0] != "x" {
		t.Error("clone shares slices with the original")
	}
}

func TestCloneNil(t *testing.T) {
	var tk *Task
	if tk.Clone() != nil {
		t.Error("Clone of nil task is not nil")
	}
}
