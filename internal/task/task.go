package task

import "time"

// Status represents the lifecycle state of a task in the backend.
type Status string

const (
	StatusOpen       Status = "open"        // Ready to be considered for scheduling
	StatusInProgress Status = "in_progress" // Claimed by a worker
	StatusClosed     Status = "closed"      // Done; satisfies dependents
)

// Task is a unit of work in the backlog. The scheduler never mutates tasks
// directly; all mutation goes through the Backend in response to claim/close.
type Task struct {
	ID        string
	Title     string
	Status    Status
	Priority  int // Lower is more urgent
	DependsOn []string
	Epic      string // Parent epic ID, empty for standalone tasks
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Labels != nil {
		cp.Labels = append([]string(nil), t.Labels...)
	}
	return &cp
}

// Filter narrows task selection. Zero value matches everything.
type Filter struct {
	Status  Status          // Match only this status ("" matches all)
	Epic    string          // Match only tasks under this epic ("" matches all)
	Labels  []string        // Task must carry ALL listed labels
	Exclude map[string]bool // Task IDs to skip regardless of other criteria
}

// Matches reports whether the task passes the filter.
func (f Filter) Matches(t *Task) bool {
	if f.Exclude[t.ID] {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Epic != "" && t.Epic != f.Epic {
		return false
	}
	for _, label := range f.Labels {
		if !t.HasLabel(label) {
			return false
		}
	}
	return true
}
