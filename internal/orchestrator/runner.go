// Package orchestrator owns the run loop: snapshot the backlog, build the
// dependency graph, let the scheduler pick, execute through the executor,
// and consult the guardrails between iterations. It also carries the triage
// channel that serializes escalations to a single operator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/executor"
	"github.com/aristath/taskpilot/internal/graph"
	"github.com/aristath/taskpilot/internal/guardrail"
	"github.com/aristath/taskpilot/internal/harness"
	"github.com/aristath/taskpilot/internal/ident"
	"github.com/aristath/taskpilot/internal/ledger"
	"github.com/aristath/taskpilot/internal/scheduler"
	"github.com/aristath/taskpilot/internal/task"
	"github.com/aristath/taskpilot/internal/workspace"
)

// HarnessFactory creates a harness for one task, rooted in its workspace.
// kind names the harness implementation for circuit-breaker bucketing.
type HarnessFactory func(kind, workDir string) (harness.Harness, error)

// Config configures a run.
type Config struct {
	Parallel       int         // Max concurrent tasks; <= 1 runs sequentially
	Filter         task.Filter // Restricts which open tasks are considered
	HarnessKind    string      // Harness implementation to run tasks with
	HarnessFactory HarnessFactory
}

// Report summarizes a finished run.
type Report struct {
	SessionID  string
	Completed  int
	Escalated  int
	Halted     bool
	HaltReason string
	Results    []executor.Result
}

// Runner drives a full run session.
type Runner struct {
	backend    task.Backend
	guard      *guardrail.Engine
	rec        *ledger.Recorder
	bus        *events.Bus
	exec       *executor.Executor
	workspaces *workspace.Manager
	triage     *TriageChannel // Nil unless the failure mode is triage
	cfg        Config

	mu        sync.Mutex
	results   []executor.Result
	escalated map[string]bool // Tasks escalated this session; not re-picked
}

// NewRunner creates a runner. triage may be nil.
func NewRunner(backend task.Backend, guard *guardrail.Engine, rec *ledger.Recorder, bus *events.Bus, exec *executor.Executor, workspaces *workspace.Manager, triage *TriageChannel, cfg Config) *Runner {
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.HarnessFactory == nil {
		cfg.HarnessFactory = func(kind, workDir string) (harness.Harness, error) {
			return harness.New(harness.Config{Type: kind, WorkDir: workDir}, nil)
		}
	}
	return &Runner{
		backend:    backend,
		guard:      guard,
		rec:        rec,
		bus:        bus,
		exec:       exec,
		workspaces: workspaces,
		triage:     triage,
		cfg:        cfg,
		escalated:  make(map[string]bool),
	}
}

// Run executes the backlog until it is complete, blocked, halted by a
// guardrail, or cancelled. Exactly one session record tracks the run; a
// crashed predecessor is marked orphaned before the new session starts.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if orphan, err := r.rec.RecoverOrphan(); err != nil {
		return nil, fmt.Errorf("recovering prior session: %w", err)
	} else if orphan != nil {
		log.Printf("WARNING: prior session %s did not exit cleanly, marked orphaned", orphan.ID)
		r.bus.Publish(events.SessionOrphaned{SessionID: orphan.ID, Timestamp: time.Now()})
	}

	gcfg := r.guard.Config()
	session, err := r.rec.StartSession(gcfg.TokenLimit, gcfg.CostLimit)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	r.bus.Publish(events.SessionStarted{SessionID: session.ID, Timestamp: time.Now()})

	if err := r.workspaces.Prune(); err != nil {
		log.Printf("WARNING: failed to prune stale workspaces: %v", err)
	}
	defer func() {
		if err := r.workspaces.CleanupAll(); err != nil {
			log.Printf("WARNING: failed to clean workspaces: %v", err)
		}
	}()

	if r.triage != nil {
		r.triage.Start(ctx)
		defer r.triage.Stop()
	}

	report := &Report{SessionID: session.ID}
	status, haltReason := r.loop(ctx, session.ID, report)

	report.Halted = status != ledger.SessionCompleted || haltReason != ""
	report.HaltReason = haltReason
	report.Results = r.snapshotResults()

	if err := r.rec.FinishSession(session.ID, status, haltReason); err != nil {
		log.Printf("ERROR: failed to finish session %s: %v", session.ID, err)
	}
	r.bus.Publish(events.SessionFinished{SessionID: session.ID, Status: string(status), Timestamp: time.Now()})

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// loop is the iteration engine. Returns the terminal session status and a
// halt reason (empty for a clean completion).
func (r *Runner) loop(ctx context.Context, sessionID string, report *Report) (ledger.SessionStatus, string) {
	for {
		if err := ctx.Err(); err != nil {
			return ledger.SessionCompleted, "cancelled"
		}

		// Fresh snapshot each iteration: tasks closed outside the engine
		// (by the agent, or a human) unblock dependents on the next pass.
		tasks, err := r.backend.List(ctx, task.Filter{})
		if err != nil {
			return ledger.SessionCompleted, fmt.Sprintf("listing tasks: %v", err)
		}

		g, err := graph.Build(tasks)
		if err != nil {
			return ledger.SessionCompleted, fmt.Sprintf("building dependency graph: %v", err)
		}
		if cyc := g.Cycle(); cyc != nil {
			// Cycle members and their dependents are excluded from
			// scheduling; everything else keeps running.
			log.Printf("WARNING: %v", cyc)
		}

		batch := r.pick(g)
		switch batch.State {
		case scheduler.StateAllComplete:
			return ledger.SessionCompleted, ""
		case scheduler.StateNoneReady:
			if r.escalatedCount() > 0 {
				return ledger.SessionCompleted, "no ready tasks: remaining open tasks are blocked or escalated this session"
			}
			return ledger.SessionCompleted, "no ready tasks: remaining open tasks are blocked"
		}

		progress := r.runWave(ctx, sessionID, batch.Tasks, report)

		r.guard.RecordIteration(progress)
		d := r.guard.Check()
		for _, w := range d.Warnings {
			log.Printf("WARNING: guardrail %s", w)
			r.bus.Publish(events.GuardrailWarning{Warning: w, Timestamp: time.Now()})
		}
		if d.Verdict == guardrail.VerdictHalt {
			r.bus.Publish(events.GuardrailHalt{Reason: d.Halt, Timestamp: time.Now()})
			return ledger.SessionCompleted, d.Halt.Error()
		}

		if r.waveHalted() {
			return ledger.SessionCompleted, "run halted by failure policy"
		}
	}
}

// pick selects the next wave: a single task when sequential, up to Parallel
// mutually independent tasks otherwise. Tasks escalated this session stay
// open for a later run; picking them again would burn attempts on the same
// failure, so they are filtered out here.
func (r *Runner) pick(g *graph.Graph) scheduler.Batch {
	f := r.cfg.Filter
	f.Exclude = r.escalatedSet()

	if r.cfg.Parallel <= 1 {
		sel := scheduler.Next(g, f)
		b := scheduler.Batch{State: sel.State}
		if sel.Task != nil {
			b.Tasks = []*task.Task{sel.Task}
		}
		return b
	}
	return scheduler.NextBatch(g, f, r.cfg.Parallel)
}

// runWave executes one wave of independent tasks with bounded concurrency.
// Reports whether any task completed.
func (r *Runner) runWave(ctx context.Context, sessionID string, tasks []*task.Task, report *Report) bool {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallel)

	var mu sync.Mutex
	progress := false

	for _, t := range tasks {
		t := t
		r.bus.Publish(events.TaskSelected{ID: t.ID, Priority: t.Priority, Timestamp: time.Now()})

		g.Go(func() error {
			res := r.runOne(gctx, sessionID, t)

			mu.Lock()
			switch res.Disposition {
			case executor.TaskCompleted:
				report.Completed++
				progress = true
			case executor.TaskAwaitingClose:
				progress = true
			case executor.TaskEscalated:
				report.Escalated++
			}
			mu.Unlock()

			if res.Disposition == executor.TaskEscalated {
				r.markEscalated(res.TaskID)
			}

			r.recordResult(res)
			if res.Err != nil && errors.Is(res.Err, executor.ErrHaltRun) {
				return res.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, executor.ErrHaltRun) && ctx.Err() == nil {
		log.Printf("ERROR: wave failed: %v", err)
	}
	return progress
}

// runOne drives a single task: workspace, harness, executor, session
// counters. Errors are folded into the result, never propagated, so one bad
// task does not abort its wave-mates.
func (r *Runner) runOne(ctx context.Context, sessionID string, t *task.Task) executor.Result {
	ws, err := r.workspaces.Create(t.ID)
	if err != nil {
		return executor.Result{TaskID: t.ID, Disposition: executor.TaskEscalated, Err: err}
	}
	defer func() {
		if err := r.workspaces.Cleanup(ws); err != nil {
			log.Printf("WARNING: failed to clean workspace for task %s: %v", t.ID, err)
		}
	}()

	h, err := r.cfg.HarnessFactory(r.cfg.HarnessKind, ws.Path)
	if err != nil {
		return executor.Result{TaskID: t.ID, Disposition: executor.TaskEscalated, Err: err}
	}
	defer h.Close()

	if err := r.rec.UpdateSession(sessionID, func(s *ledger.Session) {
		s.CurrentTask = t.ID
	}); err != nil {
		log.Printf("WARNING: failed to update session: %v", err)
	}

	spec, plan, epic := ident.Lineage(t.ID)
	lin := ledger.Lineage{Spec: spec, Plan: plan, Epic: epic}

	res, err := r.exec.RunTask(ctx, t, h, r.cfg.HarnessKind, lin)
	if err != nil {
		res.Err = err
	}

	if err := r.rec.UpdateSession(sessionID, func(s *ledger.Session) {
		s.TokensUsed += res.TokensUsed
		s.CostUsed += res.Cost
		if res.Disposition == executor.TaskCompleted {
			s.TasksCompleted++
		}
		if s.CurrentTask == t.ID {
			s.CurrentTask = ""
		}
	}); err != nil {
		log.Printf("WARNING: failed to update session: %v", err)
	}

	return res
}

func (r *Runner) escalatedSet() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.escalated))
	for id := range r.escalated {
		out[id] = true
	}
	return out
}

func (r *Runner) escalatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.escalated)
}

func (r *Runner) markEscalated(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalated[id] = true
}

func (r *Runner) recordResult(res executor.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *Runner) snapshotResults() []executor.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]executor.Result, len(r.results))
	copy(out, r.results)
	return out
}

// waveHalted reports whether any recorded result demands a run halt.
// Cancellation also surfaces as a halted disposition; the loop reports that
// as "cancelled", not a policy halt, so those results are skipped here.
func (r *Runner) waveHalted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Disposition != executor.RunHalted {
			continue
		}
		if res.Err != nil && (errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
			continue
		}
		return true
	}
	return false
}
