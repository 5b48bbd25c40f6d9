package ledger

import (
	"fmt"
	"time"
)

// Stage is a task's post-completion workflow state.
type Stage string

const (
	StageDevComplete Stage = "dev_complete"
	StageNeedsReview Stage = "needs_review"
	StageValidated   Stage = "validated"
	StageReleased    Stage = "released"
)

// stageOrder positions stages for the monotonicity check.
var stageOrder = map[Stage]int{
	StageDevComplete: 0,
	StageNeedsReview: 1,
	StageValidated:   2,
	StageReleased:    3,
}

// StageTransition is one recorded movement between stages.
type StageTransition struct {
	From     Stage     `json:"from,omitempty"`
	To       Stage     `json:"to"`
	At       time.Time `json:"at"`
	Reverted bool      `json:"reverted,omitempty"`
	Reason   string    `json:"reason,omitempty"` // Required for reverts
}

// WorkflowState is the stage plus its full transition history. Transitions
// are monotonic in stage order unless explicitly reverted with a reason.
type WorkflowState struct {
	Stage   Stage             `json:"stage,omitempty"`
	History []StageTransition `json:"history,omitempty"`
}

// advance moves the workflow forward. Moving backward (or sideways) without
// a revert is rejected.
func (w *WorkflowState) advance(to Stage, now time.Time) error {
	order, ok := stageOrder[to]
	if !ok {
		return fmt.Errorf("unknown workflow stage %q", to)
	}
	if w.Stage != "" && order <= stageOrder[w.Stage] {
		return fmt.Errorf("stage transition %s -> %s is not forward; use a revert with a reason", w.Stage, to)
	}

	w.History = append(w.History, StageTransition{From: w.Stage, To: to, At: now})
	w.Stage = to
	return nil
}

// revert moves the workflow backward with a recorded reason.
func (w *WorkflowState) revert(to Stage, reason string, now time.Time) error {
	order, ok := stageOrder[to]
	if !ok {
		return fmt.Errorf("unknown workflow stage %q", to)
	}
	if reason == "" {
		return fmt.Errorf("reverting %s -> %s requires a reason", w.Stage, to)
	}
	if w.Stage == "" || order >= stageOrder[w.Stage] {
		return fmt.Errorf("revert target %s is not before current stage %s", to, w.Stage)
	}

	w.History = append(w.History, StageTransition{From: w.Stage, To: to, At: now, Reverted: true, Reason: reason})
	w.Stage = to
	return nil
}
