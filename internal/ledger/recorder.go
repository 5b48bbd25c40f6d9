package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/taskpilot/internal/task"
)

// ErrLedgerWrite marks a failed ledger write. The run must not proceed past
// a state transition whose record failed to persist.
var ErrLedgerWrite = errors.New("ledger: write failed")

// Recorder owns the ledger directory layout:
//
//	tasks/<id>/entry.json
//	tasks/<id>/attempts/NNN.prompt.md, NNN.log.txt
//	epics/<id>.json
//	plans/<id>.json
//	runs/<session>.json, runs/current -> <session>.json
//	index.json
//
// Per-task files have a single writer (the worker that claimed the task),
// so entry writes are plain atomic replaces. The shared index and session
// files use versioned read-modify-write commits.
type Recorder struct {
	root  string
	locks *keyedLocks
}

// NewRecorder creates a recorder rooted at dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{root: dir, locks: newKeyedLocks()}
}

// Root returns the ledger root directory.
func (r *Recorder) Root() string { return r.root }

func (r *Recorder) taskDir(taskID string) string {
	return filepath.Join(r.root, "tasks", taskID)
}

func (r *Recorder) entryPath(taskID string) string {
	return filepath.Join(r.taskDir(taskID), "entry.json")
}

// AttemptPromptPath returns the prompt file path for an attempt number.
func (r *Recorder) AttemptPromptPath(taskID string, number int) string {
	return filepath.Join(r.taskDir(taskID), "attempts", fmt.Sprintf("%03d.prompt.md", number))
}

// AttemptLogPath returns the execution log path for an attempt number.
// Retention of these logs is an operator concern; the recorder itself
// writes every attempt unconditionally.
func (r *Recorder) AttemptLogPath(taskID string, number int) string {
	return filepath.Join(r.taskDir(taskID), "attempts", fmt.Sprintf("%03d.log.txt", number))
}

// OpenEntry creates the per-task entry with a snapshot of current task
// fields. Idempotent: re-opening an existing entry is a no-op.
func (r *Recorder) OpenEntry(t *task.Task, lin Lineage) error {
	path := r.entryPath(t.ID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	entry := &Entry{
		TaskID:    t.ID,
		Lineage:   lin,
		Snapshot:  snapshotOf(t),
		CreatedAt: time.Now().UTC(),
		Attempts:  []Attempt{},
	}
	if err := r.writeEntry(entry); err != nil {
		return err
	}
	return r.updateIndex(t.ID, entry)
}

// Entry loads the ledger entry for a task.
func (r *Recorder) Entry(taskID string) (*Entry, error) {
	data, err := os.ReadFile(r.entryPath(taskID))
	if err != nil {
		return nil, fmt.Errorf("reading entry for %s: %w", taskID, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing entry for %s: %w", taskID, err)
	}
	return &entry, nil
}

// BeginAttempt appends a new attempt with the next sequential number and
// persists the prompt content. Returns the attempt number.
func (r *Recorder) BeginAttempt(taskID, prompt string) (int, error) {
	entry, err := r.Entry(taskID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	number := len(entry.Attempts) + 1
	promptPath := r.AttemptPromptPath(taskID, number)
	if err := os.MkdirAll(filepath.Dir(promptPath), 0755); err != nil {
		return 0, fmt.Errorf("%w: creating attempts dir: %v", ErrLedgerWrite, err)
	}
	if err := os.WriteFile(promptPath, []byte(prompt), 0644); err != nil {
		return 0, fmt.Errorf("%w: writing prompt: %v", ErrLedgerWrite, err)
	}

	entry.Attempts = append(entry.Attempts, Attempt{
		Number:     number,
		PromptFile: filepath.Base(promptPath),
		StartedAt:  time.Now().UTC(),
	})
	if err := r.writeEntry(entry); err != nil {
		return 0, err
	}
	return number, r.updateIndex(taskID, entry)
}

// FinishAttempt records an attempt's terminal outcome and persists its
// execution log.
func (r *Recorder) FinishAttempt(taskID string, number int, outcome AttemptOutcome, log string, tokens int64, cost float64) error {
	entry, err := r.Entry(taskID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if number < 1 || number > len(entry.Attempts) {
		return fmt.Errorf("%w: attempt %d of task %s not found", ErrLedgerWrite, number, taskID)
	}

	logPath := r.AttemptLogPath(taskID, number)
	if err := os.WriteFile(logPath, []byte(log), 0644); err != nil {
		return fmt.Errorf("%w: writing log: %v", ErrLedgerWrite, err)
	}

	a := &entry.Attempts[number-1]
	a.LogFile = filepath.Base(logPath)
	a.EndedAt = time.Now().UTC()
	a.Outcome = outcome
	a.TokensUsed = tokens
	a.Cost = cost

	if err := r.writeEntry(entry); err != nil {
		return err
	}
	return r.updateIndex(taskID, entry)
}

// Finalize records the final outcome when a task closes or escalates,
// records drift if the live task no longer matches the creation snapshot,
// and recomputes the parent epic/plan aggregates from their child entries.
// A completed outcome is terminal: re-finalizing it is a no-op. An escalated
// outcome is not; the task stays open, so a later run that completes (or
// re-escalates) it rewrites the outcome from the attempts on record.
func (r *Recorder) Finalize(taskID string, live *task.Task, status string) error {
	entry, err := r.Entry(taskID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if entry.Final != nil && entry.Final.Status != OutcomeEscalated {
		return nil
	}

	var tokens int64
	var cost float64
	for _, a := range entry.Attempts {
		tokens += a.TokensUsed
		cost += a.Cost
	}
	entry.Final = &Outcome{
		Status:      status,
		Attempts:    len(entry.Attempts),
		TokensUsed:  tokens,
		Cost:        cost,
		CompletedAt: time.Now().UTC(),
	}

	if status == OutcomeCompleted && entry.Workflow.Stage == "" {
		// Closing a task lands it at the first workflow stage.
		if err := entry.Workflow.advance(StageDevComplete, time.Now().UTC()); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
		}
	}

	if live != nil {
		after := snapshotOf(live)
		if fields := diffSnapshots(entry.Snapshot, after); len(fields) > 0 {
			entry.TaskChanged = &Drift{
				Fields:     fields,
				Before:     entry.Snapshot,
				After:      after,
				RecordedAt: time.Now().UTC(),
			}
		}
	}

	if err := r.writeEntry(entry); err != nil {
		return err
	}
	if err := r.updateIndex(taskID, entry); err != nil {
		return err
	}
	return r.recomputeAggregates(entry.Lineage)
}

// AdvanceStage moves a task's workflow stage forward.
func (r *Recorder) AdvanceStage(taskID string, to Stage) error {
	return r.mutateWorkflow(taskID, func(w *WorkflowState) error {
		return w.advance(to, time.Now().UTC())
	})
}

// RevertStage moves a task's workflow stage backward with a recorded reason.
func (r *Recorder) RevertStage(taskID string, to Stage, reason string) error {
	return r.mutateWorkflow(taskID, func(w *WorkflowState) error {
		return w.revert(to, reason, time.Now().UTC())
	})
}

func (r *Recorder) mutateWorkflow(taskID string, fn func(*WorkflowState) error) error {
	entry, err := r.Entry(taskID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := fn(&entry.Workflow); err != nil {
		return err
	}
	if err := r.writeEntry(entry); err != nil {
		return err
	}
	return r.updateIndex(taskID, entry)
}

// writeEntry atomically replaces the entry file.
func (r *Recorder) writeEntry(entry *Entry) error {
	path := r.entryPath(entry.TaskID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating task dir: %v", ErrLedgerWrite, err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling entry: %v", ErrLedgerWrite, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: writing entry: %v", ErrLedgerWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replacing entry: %v", ErrLedgerWrite, err)
	}
	return nil
}
