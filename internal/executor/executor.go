// Package executor drives one task through its bounded retry state machine:
// claim, invoke the harness, evaluate the outcome, retry or escalate. The
// guardrail engine is consulted after every attempt; the ledger records
// every transition, and a ledger write failure aborts the run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/guardrail"
	"github.com/aristath/taskpilot/internal/harness"
	"github.com/aristath/taskpilot/internal/ledger"
	"github.com/aristath/taskpilot/internal/task"
)

// State is the attempt state machine position.
type State int

const (
	StatePending State = iota
	StateClaimed
	StateRunning
	StateSucceeded
	StateFailed
	StateTimedOut
)

// FailureMode configures what happens when a task exhausts its attempts.
type FailureMode string

const (
	FailStop   FailureMode = "stop"    // Halt the whole run
	FailMoveOn FailureMode = "move_on" // Leave the task open, continue
	FailTriage FailureMode = "triage"  // Pause for external intervention
)

// ErrHaltRun signals that the run must stop (FailStop escalation or a
// triage abort).
var ErrHaltRun = errors.New("executor: run halted")

// TriageAction is an operator's resolution of an escalated task.
type TriageAction int

const (
	TriageRetry TriageAction = iota // Run another full attempt cycle
	TriageSkip                      // Leave the task open and move on
	TriageAbort                     // Halt the run
)

// TriageFunc blocks until an operator resolves an escalated task.
type TriageFunc func(ctx context.Context, taskID, reason string) (TriageAction, error)

// Disposition classifies how a task run ended.
type Disposition int

const (
	TaskCompleted     Disposition = iota
	TaskEscalated                 // Attempts exhausted, task left open
	TaskLostClaim                 // Another worker claimed it first
	TaskAwaitingClose             // Harness succeeded but auto-close is off; task left in_progress
	RunHalted                     // Guardrail halt or stop/abort escalation
)

// Result summarizes one task run.
type Result struct {
	TaskID      string
	Disposition Disposition
	Attempts    int
	TokensUsed  int64
	Cost        float64
	Halt        *guardrail.HaltError // Set when a guardrail caused RunHalted
	Err         error
}

// Config parameterizes the executor.
type Config struct {
	MaxTaskIterations int
	AttemptTimeout    time.Duration // Zero disables the per-attempt timeout
	RetryDelay        time.Duration // Sleep between attempts of the same task
	FailureMode       FailureMode
	AutoClose         bool    // Close the task when the harness succeeds but the backend still shows it open
	CostPerToken      float64 // Token -> cost conversion for budget tracking
	Retry             RetryConfig
}

// Executor runs tasks against a harness.
type Executor struct {
	backend  task.Backend
	guard    *guardrail.Engine
	rec      *ledger.Recorder
	bus      *events.Bus
	breakers *BreakerRegistry
	triage   TriageFunc
	cfg      Config
}

// New creates an executor. triage may be nil when FailureMode is not
// FailTriage.
func New(backend task.Backend, guard *guardrail.Engine, rec *ledger.Recorder, bus *events.Bus, triage TriageFunc, cfg Config) *Executor {
	if cfg.MaxTaskIterations <= 0 {
		cfg.MaxTaskIterations = 3
	}
	if cfg.FailureMode == "" {
		cfg.FailureMode = FailMoveOn
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Executor{
		backend:  backend,
		guard:    guard,
		rec:      rec,
		bus:      bus,
		breakers: NewBreakerRegistry(),
		triage:   triage,
		cfg:      cfg,
	}
}

// RunTask drives one task to a terminal disposition. kind names the harness
// implementation for circuit-breaker bucketing.
func (e *Executor) RunTask(ctx context.Context, t *task.Task, h harness.Harness, kind string, lin ledger.Lineage) (Result, error) {
	// Claim: pending -> claimed. Atomic against other workers.
	claimed, err := e.backend.Claim(ctx, t.ID)
	if err != nil {
		return Result{TaskID: t.ID}, fmt.Errorf("claiming task %s: %w", t.ID, err)
	}
	if !claimed {
		return Result{TaskID: t.ID, Disposition: TaskLostClaim}, nil
	}

	if err := e.rec.OpenEntry(t, lin); err != nil {
		return Result{TaskID: t.ID}, err
	}

	var totalTokens int64
	var totalCost float64
	for {
		res, done, err := e.attemptCycle(ctx, t, h, kind)
		totalTokens += res.TokensUsed
		totalCost += res.Cost
		if err != nil || done {
			res.TokensUsed = totalTokens
			res.Cost = totalCost
			return res, err
		}
		// TriageRetry: run another full attempt cycle.
	}
}

// attemptCycle runs up to MaxTaskIterations attempts, then escalates.
// done is false only for a TriageRetry resolution.
func (e *Executor) attemptCycle(ctx context.Context, t *task.Task, h harness.Harness, kind string) (res Result, done bool, err error) {
	caps := h.Capabilities()
	cb := e.breakers.Get(kind)

	var usedTokens int64
	var usedCost float64
	defer func() {
		res.TokensUsed = usedTokens
		res.Cost = usedCost
	}()

	var priorFailure string
	attempts := 0

	for i := 0; i < e.cfg.MaxTaskIterations; i++ {
		// Cancellation is honored between attempts, never mid-attempt.
		if err := ctx.Err(); err != nil {
			e.releaseClaim(t)
			return Result{TaskID: t.ID, Disposition: RunHalted, Attempts: attempts, Err: err}, true, nil
		}

		prompt := buildPrompt(t, i+1, priorFailure)
		number, err := e.rec.BeginAttempt(t.ID, prompt)
		if err != nil {
			return Result{TaskID: t.ID, Attempts: attempts}, true, err
		}
		attempts = number

		e.bus.Publish(events.AttemptStarted{ID: t.ID, Number: number, Timestamp: time.Now()})
		started := time.Now()

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		}

		inv := harness.Invocation{Prompt: prompt}
		if caps.TokenReporting && e.guard.Config().TokenLimit > 0 {
			inv.BudgetHint = e.guard.Config().TokenLimit - e.guard.Usage().TokensUsed
		}

		hres, invokeErr := invokeWithRetry(attemptCtx, h, inv, cb, e.cfg.Retry)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		tokens := hres.TokensUsed
		if !caps.TokenReporting || tokens == 0 {
			tokens = harness.EstimateTokens(hres.Output)
		}
		cost := float64(tokens) * e.cfg.CostPerToken
		e.guard.RecordUsage(tokens, cost)
		usedTokens += tokens
		usedCost += cost

		outcome := ledger.AttemptSuccess
		switch {
		case timedOut:
			outcome = ledger.AttemptTimeout
		case invokeErr != nil || hres.ExitStatus != 0:
			outcome = ledger.AttemptFailure
		}

		logText := hres.Output
		if invokeErr != nil {
			logText = fmt.Sprintf("%s\n[error]: %v", logText, invokeErr)
		}
		if err := e.rec.FinishAttempt(t.ID, number, outcome, logText, tokens, cost); err != nil {
			return Result{TaskID: t.ID, Attempts: attempts}, true, err
		}

		e.bus.Publish(events.AttemptFinished{
			ID:         t.ID,
			Number:     number,
			Outcome:    string(outcome),
			TokensUsed: tokens,
			Duration:   time.Since(started),
			Timestamp:  time.Now(),
		})

		if outcome == ledger.AttemptSuccess {
			res, err := e.evaluateSuccess(ctx, t, attempts)
			return res, true, err
		}

		priorFailure = failureSummary(string(outcome), invokeErr, hres.Output)

		// Hard limits halt after the in-flight attempt, never mid-attempt.
		if d := e.guard.Check(); d.Verdict == guardrail.VerdictHalt {
			e.releaseClaim(t)
			return Result{TaskID: t.ID, Disposition: RunHalted, Attempts: attempts, Halt: d.Halt}, true, nil
		}

		if i < e.cfg.MaxTaskIterations-1 && e.cfg.RetryDelay > 0 {
			select {
			case <-time.After(e.cfg.RetryDelay):
			case <-ctx.Done():
			}
		}
	}

	return e.escalate(ctx, t, attempts)
}

// evaluateSuccess reconciles a successful harness run with the backend's
// view of the task.
func (e *Executor) evaluateSuccess(ctx context.Context, t *task.Task, attempts int) (Result, error) {
	live, err := e.backend.Get(ctx, t.ID)
	if err != nil {
		return Result{TaskID: t.ID, Attempts: attempts}, fmt.Errorf("re-reading task %s: %w", t.ID, err)
	}

	if live.Status == task.StatusClosed {
		if err := e.rec.Finalize(t.ID, live, ledger.OutcomeCompleted); err != nil {
			return Result{TaskID: t.ID, Attempts: attempts}, err
		}
		return Result{TaskID: t.ID, Disposition: TaskCompleted, Attempts: attempts}, nil
	}

	if e.cfg.AutoClose {
		if err := e.backend.Close(ctx, t.ID); err != nil {
			return Result{TaskID: t.ID, Attempts: attempts}, fmt.Errorf("auto-closing task %s: %w", t.ID, err)
		}
		live.Status = task.StatusClosed
		if err := e.rec.Finalize(t.ID, live, ledger.OutcomeCompleted); err != nil {
			return Result{TaskID: t.ID, Attempts: attempts}, err
		}
		return Result{TaskID: t.ID, Disposition: TaskCompleted, Attempts: attempts}, nil
	}

	// Auto-close disabled: never silently close. The task stays
	// in_progress for manual follow-up.
	return Result{TaskID: t.ID, Disposition: TaskAwaitingClose, Attempts: attempts}, nil
}

// escalate handles an exhausted attempt budget per the configured mode.
// The escalated outcome is recorded only once the resolution is known: a
// triage retry is not an escalation yet, and finalizing before asking would
// freeze the ledger against the retry's real result.
func (e *Executor) escalate(ctx context.Context, t *task.Task, attempts int) (Result, bool, error) {
	e.bus.Publish(events.TaskEscalated{
		ID:          t.ID,
		Attempts:    attempts,
		FailureMode: string(e.cfg.FailureMode),
		Timestamp:   time.Now(),
	})

	if e.cfg.FailureMode == FailTriage && e.triage != nil {
		reason := fmt.Sprintf("task %s failed %d attempts", t.ID, attempts)
		action, err := e.triage(ctx, t.ID, reason)
		if err != nil {
			if ferr := e.finalizeEscalated(ctx, t); ferr != nil {
				return Result{TaskID: t.ID, Attempts: attempts}, true, ferr
			}
			return Result{TaskID: t.ID, Disposition: RunHalted, Attempts: attempts, Err: err}, true, nil
		}
		switch action {
		case TriageRetry:
			return Result{TaskID: t.ID, Attempts: attempts}, false, nil
		case TriageAbort:
			if err := e.finalizeEscalated(ctx, t); err != nil {
				return Result{TaskID: t.ID, Attempts: attempts}, true, err
			}
			return Result{TaskID: t.ID, Disposition: RunHalted, Attempts: attempts, Err: ErrHaltRun}, true, nil
		}
		// TriageSkip continues like move_on.
	}

	if err := e.finalizeEscalated(ctx, t); err != nil {
		return Result{TaskID: t.ID, Attempts: attempts}, true, err
	}

	if e.cfg.FailureMode == FailStop {
		return Result{TaskID: t.ID, Disposition: RunHalted, Attempts: attempts, Err: ErrHaltRun}, true, nil
	}

	// move_on (and triage-skip): leave the task open for a later run.
	if err := e.backend.Reopen(ctx, t.ID); err != nil {
		return Result{TaskID: t.ID, Attempts: attempts}, true, fmt.Errorf("reopening task %s: %w", t.ID, err)
	}
	return Result{TaskID: t.ID, Disposition: TaskEscalated, Attempts: attempts}, true, nil
}

// releaseClaim reopens a claimed task abandoned by a halt or cancellation,
// so the next run can pick it back up. Uses a fresh context: the run's
// context is typically already dead here.
func (e *Executor) releaseClaim(t *task.Task) {
	if err := e.backend.Reopen(context.Background(), t.ID); err != nil {
		log.Printf("WARNING: failed to reopen task %s after halt: %v", t.ID, err)
	}
}

func (e *Executor) finalizeEscalated(ctx context.Context, t *task.Task) error {
	live, err := e.backend.Get(ctx, t.ID)
	if err != nil {
		live = t
	}
	return e.rec.Finalize(t.ID, live, ledger.OutcomeEscalated)
}
