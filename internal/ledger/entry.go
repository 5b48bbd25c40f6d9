// Package ledger is the append-only durable record of everything the engine
// executed and why. One entry per task, one aggregate per epic/plan, one
// record per run session, plus a flat index for fast filtering. The ledger
// is the sole source of truth for what happened: a failed ledger write is
// fatal to the run.
package ledger

import (
	"time"

	"github.com/aristath/taskpilot/internal/task"
)

// AttemptOutcome is the terminal result of one attempt.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailure AttemptOutcome = "failure"
	AttemptTimeout AttemptOutcome = "timeout"
)

// Attempt is one bounded execution of the harness against a task. Attempts
// are append-only: once recorded, never edited (only the outcome fields are
// filled in when the attempt ends).
type Attempt struct {
	Number     int            `json:"number"` // Monotonically increasing from 1
	PromptFile string         `json:"prompt_file"`
	LogFile    string         `json:"log_file,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at,omitempty"`
	Outcome    AttemptOutcome `json:"outcome,omitempty"`
	TokensUsed int64          `json:"tokens_used"`
	Cost       float64        `json:"cost"`
}

// Lineage is the chain of originating identifiers for a task.
type Lineage struct {
	Spec string `json:"spec,omitempty"`
	Plan string `json:"plan,omitempty"`
	Epic string `json:"epic,omitempty"`
}

// TaskSnapshot captures task fields at entry creation, for later drift
// comparison.
type TaskSnapshot struct {
	Title     string   `json:"title"`
	Priority  int      `json:"priority"`
	DependsOn []string `json:"depends_on,omitempty"`
	Epic      string   `json:"epic,omitempty"`
	Labels    []string `json:"labels,omitempty"`
}

// Drift records that task fields mutated between entry creation and close.
type Drift struct {
	Fields     []string     `json:"fields"` // Names of the fields that changed
	Before     TaskSnapshot `json:"before"`
	After      TaskSnapshot `json:"after"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Outcome is the final result recorded when a task closes or escalates.
type Outcome struct {
	Status      string    `json:"status"` // "completed" or "escalated"
	Attempts    int       `json:"attempts"`
	TokensUsed  int64     `json:"tokens_used"`
	Cost        float64   `json:"cost"`
	CompletedAt time.Time `json:"completed_at"`
}

// Outcome statuses.
const (
	OutcomeCompleted = "completed"
	OutcomeEscalated = "escalated"
)

// Entry is the per-task ledger record, created on first attempt and never
// deleted.
type Entry struct {
	TaskID      string        `json:"task_id"`
	Lineage     Lineage       `json:"lineage"`
	Snapshot    TaskSnapshot  `json:"snapshot"`
	CreatedAt   time.Time     `json:"created_at"`
	Attempts    []Attempt     `json:"attempts"`
	Final       *Outcome      `json:"final,omitempty"`
	TaskChanged *Drift        `json:"task_changed,omitempty"`
	Workflow    WorkflowState `json:"workflow"`
}

// snapshotOf extracts the drift-tracked fields from a task.
func snapshotOf(t *task.Task) TaskSnapshot {
	return TaskSnapshot{
		Title:     t.Title,
		Priority:  t.Priority,
		DependsOn: append([]string(nil), t.DependsOn...),
		Epic:      t.Epic,
		Labels:    append([]string(nil), t.Labels...),
	}
}

// diffSnapshots names the fields that differ between two snapshots.
func diffSnapshots(before, after TaskSnapshot) []string {
	var fields []string
	if before.Title != after.Title {
		fields = append(fields, "title")
	}
	if before.Priority != after.Priority {
		fields = append(fields, "priority")
	}
	if !equalStrings(before.DependsOn, after.DependsOn) {
		fields = append(fields, "depends_on")
	}
	if before.Epic != after.Epic {
		fields = append(fields, "epic")
	}
	if !equalStrings(before.Labels, after.Labels) {
		fields = append(fields, "labels")
	}
	return fields
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
