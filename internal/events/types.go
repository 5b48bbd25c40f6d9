package events

import (
	"time"

	"github.com/aristath/taskpilot/internal/guardrail"
)

// Event is implemented by everything published on the bus. Topic routes the
// event; TaskID is empty for run-level events.
type Event interface {
	Topic() string
	TaskID() string
}

// Topics.
const (
	TopicTask      = "task"
	TopicAttempt   = "attempt"
	TopicGuardrail = "guardrail"
	TopicSession   = "session"
)

// TaskSelected is published when the scheduler picks a task.
type TaskSelected struct {
	ID        string
	Priority  int
	Timestamp time.Time
}

func (e TaskSelected) Topic() string  { return TopicTask }
func (e TaskSelected) TaskID() string { return e.ID }

// TaskEscalated is published when a task exhausts its attempt budget.
type TaskEscalated struct {
	ID          string
	Attempts    int
	FailureMode string
	Timestamp   time.Time
}

func (e TaskEscalated) Topic() string  { return TopicTask }
func (e TaskEscalated) TaskID() string { return e.ID }

// AttemptStarted is published when an attempt begins executing.
type AttemptStarted struct {
	ID        string
	Number    int
	Timestamp time.Time
}

func (e AttemptStarted) Topic() string  { return TopicAttempt }
func (e AttemptStarted) TaskID() string { return e.ID }

// AttemptFinished is published when an attempt reaches a terminal outcome.
type AttemptFinished struct {
	ID         string
	Number     int
	Outcome    string
	TokensUsed int64
	Duration   time.Duration
	Timestamp  time.Time
}

func (e AttemptFinished) Topic() string  { return TopicAttempt }
func (e AttemptFinished) TaskID() string { return e.ID }

// GuardrailWarning is published when usage crosses the warning threshold.
type GuardrailWarning struct {
	Warning   guardrail.Warning
	Timestamp time.Time
}

func (e GuardrailWarning) Topic() string  { return TopicGuardrail }
func (e GuardrailWarning) TaskID() string { return "" }

// GuardrailHalt is published when a hard limit or the stagnation breaker
// halts the run.
type GuardrailHalt struct {
	Reason    *guardrail.HaltError
	Timestamp time.Time
}

func (e GuardrailHalt) Topic() string  { return TopicGuardrail }
func (e GuardrailHalt) TaskID() string { return "" }

// SessionStarted is published when a run session begins.
type SessionStarted struct {
	SessionID string
	Timestamp time.Time
}

func (e SessionStarted) Topic() string  { return TopicSession }
func (e SessionStarted) TaskID() string { return "" }

// SessionFinished is published when a run session ends, cleanly or not.
type SessionFinished struct {
	SessionID string
	Status    string
	Timestamp time.Time
}

func (e SessionFinished) Topic() string  { return TopicSession }
func (e SessionFinished) TaskID() string { return "" }

// SessionOrphaned is published when startup recovery finds a session that
// crashed without a clean exit.
type SessionOrphaned struct {
	SessionID string
	Timestamp time.Time
}

func (e SessionOrphaned) Topic() string  { return TopicSession }
func (e SessionOrphaned) TaskID() string { return "" }
