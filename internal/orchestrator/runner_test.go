package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/executor"
	"github.com/aristath/taskpilot/internal/guardrail"
	"github.com/aristath/taskpilot/internal/harness"
	"github.com/aristath/taskpilot/internal/ledger"
	"github.com/aristath/taskpilot/internal/task"
	"github.com/aristath/taskpilot/internal/workspace"
)

// stubBackend is an in-memory task.Backend.
type stubBackend struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newStubBackend(tasks ...*task.Task) *stubBackend {
	b := &stubBackend{tasks: make(map[string]*task.Task)}
	for _, t := range tasks {
		b.tasks[t.ID] = t.Clone()
	}
	return b
}

func (b *stubBackend) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*task.Task
	for _, t := range b.tasks {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (b *stubBackend) Get(ctx context.Context, id string) (*task.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return t.Clone(), nil
}

func (b *stubBackend) Claim(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok || t.Status != task.StatusOpen {
		return false, nil
	}
	t.Status = task.StatusInProgress
	return true, nil
}

func (b *stubBackend) Close(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[id].Status = task.StatusClosed
	return nil
}

func (b *stubBackend) Reopen(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[id].Status = task.StatusOpen
	return nil
}

func (b *stubBackend) status(id string) task.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tasks[id].Status
}

// scriptHarness answers invocations from a per-task script and records the
// order tasks were picked in.
type scriptHarness struct {
	taskID string
	script func(taskID string, inv harness.Invocation) (harness.Result, error)
	order  *invocationLog
}

type invocationLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *invocationLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *invocationLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func (l *invocationLog) count(id string) int {
	n := 0
	for _, got := range l.snapshot() {
		if got == id {
			n++
		}
	}
	return n
}

func (h *scriptHarness) Invoke(ctx context.Context, inv harness.Invocation) (harness.Result, error) {
	h.order.add(h.taskID)
	return h.script(h.taskID, inv)
}

func (h *scriptHarness) Capabilities() harness.Capabilities {
	return harness.Capabilities{TokenReporting: true}
}
func (h *scriptHarness) SessionID() string { return "stub-" + h.taskID }
func (h *scriptHarness) Close() error      { return nil }

func succeedWith(tokens int64) func(string, harness.Invocation) (harness.Result, error) {
	return func(taskID string, inv harness.Invocation) (harness.Result, error) {
		return harness.Result{TokensUsed: tokens, Output: "done"}, nil
	}
}

type runnerFixture struct {
	backend *stubBackend
	rec     *ledger.Recorder
	runner  *Runner
	order   *invocationLog
}

func newRunnerFixture(t *testing.T, gcfg guardrail.Config, ecfg executor.Config, rcfg Config,
	script func(taskID string, inv harness.Invocation) (harness.Result, error), tasks ...*task.Task) *runnerFixture {
	t.Helper()

	backend := newStubBackend(tasks...)
	guard := guardrail.New(gcfg)
	rec := ledger.NewRecorder(t.TempDir())
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	exec := executor.New(backend, guard, rec, bus, nil, ecfg)
	workspaces := workspace.NewManager(filepath.Join(t.TempDir(), "work"))

	order := &invocationLog{}
	rcfg.HarnessKind = "stub"
	rcfg.HarnessFactory = func(kind, workDir string) (harness.Harness, error) {
		// The workspace dir is named after the task.
		return &scriptHarness{taskID: filepath.Base(workDir), script: script, order: order}, nil
	}

	return &runnerFixture{
		backend: backend,
		rec:     rec,
		runner:  NewRunner(backend, guard, rec, bus, exec, workspaces, nil, rcfg),
		order:   order,
	}
}

func openTask(id string, priority int, deps ...string) *task.Task {
	return &task.Task{ID: id, Title: "work on " + id, Status: task.StatusOpen, Priority: priority, DependsOn: deps}
}

func TestRunCompletesBacklogInDependencyOrder(t *testing.T) {
	f := newRunnerFixture(t,
		guardrail.Config{},
		executor.Config{MaxTaskIterations: 1, AutoClose: true},
		Config{},
		succeedWith(100),
		openTask("T1", 2),
		openTask("T2", 1, "T1"),
		openTask("T3", 0, "T2"),
	)

	report, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Halted || report.HaltReason != "" {
		t.Errorf("run halted: %q", report.HaltReason)
	}
	if report.Completed != 3 || report.Escalated != 0 {
		t.Errorf("completed = %d, escalated = %d", report.Completed, report.Escalated)
	}

	// Priority says T3 first, but the dependency chain dominates.
	want := []string{"T1", "T2", "T3"}
	got := f.order.snapshot()
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("execution order = %v, want %v", got, want)
	}

	// Session aggregates the whole run.
	s, err := f.rec.Session(report.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != ledger.SessionCompleted {
		t.Errorf("session status = %s", s.Status)
	}
	if s.TokensUsed != 300 || s.TasksCompleted != 3 {
		t.Errorf("session usage = %d tokens, %d completed", s.TokensUsed, s.TasksCompleted)
	}
}

func TestRunParallelWaveRespectsDependencies(t *testing.T) {
	var f *runnerFixture
	script := func(taskID string, inv harness.Invocation) (harness.Result, error) {
		if taskID == "T3" && f.backend.status("T1") != task.StatusClosed {
			t.Error("T3 ran before its dependency T1 closed")
		}
		return harness.Result{TokensUsed: 10}, nil
	}

	f = newRunnerFixture(t,
		guardrail.Config{},
		executor.Config{MaxTaskIterations: 1, AutoClose: true},
		Config{Parallel: 2},
		script,
		openTask("T1", 0),
		openTask("T2", 0),
		openTask("T3", 0, "T1"),
	)

	report, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 3 {
		t.Errorf("completed = %d, want 3", report.Completed)
	}
}

func TestRunEscalatedTaskNotRePicked(t *testing.T) {
	script := func(taskID string, inv harness.Invocation) (harness.Result, error) {
		if taskID == "T1" {
			return harness.Result{ExitStatus: 1, Output: "broken"}, nil
		}
		return harness.Result{TokensUsed: 10}, nil
	}

	f := newRunnerFixture(t,
		guardrail.Config{},
		executor.Config{MaxTaskIterations: 1, AutoClose: true, FailureMode: executor.FailMoveOn},
		Config{},
		script,
		openTask("T1", 0),
		openTask("T2", 1),
	)

	report, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Completed != 1 || report.Escalated != 1 {
		t.Errorf("completed = %d, escalated = %d", report.Completed, report.Escalated)
	}
	if n := f.order.count("T1"); n != 1 {
		t.Errorf("escalated task attempted %d times this session, want 1", n)
	}
	if !strings.Contains(report.HaltReason, "escalated this session") {
		t.Errorf("HaltReason = %q", report.HaltReason)
	}

	// The task stays open for a later run.
	if f.backend.status("T1") != task.StatusOpen {
		t.Errorf("escalated task status = %s", f.backend.status("T1"))
	}
}

func TestRunGuardrailHaltEndsRun(t *testing.T) {
	f := newRunnerFixture(t,
		guardrail.Config{TokenLimit: 50},
		executor.Config{MaxTaskIterations: 1, AutoClose: true},
		Config{},
		succeedWith(100),
		openTask("T1", 0),
		openTask("T2", 1),
	)

	report, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Halted || !strings.Contains(report.HaltReason, "token budget exceeded") {
		t.Errorf("halted = %v, reason = %q", report.Halted, report.HaltReason)
	}
	// The in-flight task finished; the rest of the backlog did not start.
	if report.Completed != 1 {
		t.Errorf("completed = %d, want 1", report.Completed)
	}
	if f.backend.status("T2") != task.StatusOpen {
		t.Errorf("T2 status = %s, want open", f.backend.status("T2"))
	}
}

func TestRunStopPolicyHaltsRun(t *testing.T) {
	script := func(taskID string, inv harness.Invocation) (harness.Result, error) {
		return harness.Result{ExitStatus: 1, Output: "broken"}, nil
	}

	f := newRunnerFixture(t,
		guardrail.Config{},
		executor.Config{MaxTaskIterations: 1, FailureMode: executor.FailStop},
		Config{},
		script,
		openTask("T1", 0),
		openTask("T2", 1),
	)

	report, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Halted || !strings.Contains(report.HaltReason, "failure policy") {
		t.Errorf("halted = %v, reason = %q", report.Halted, report.HaltReason)
	}
	if f.order.count("T2") != 0 {
		t.Error("run continued past a stop escalation")
	}
}

func TestRunRecoversOrphanedSession(t *testing.T) {
	f := newRunnerFixture(t,
		guardrail.Config{},
		executor.Config{},
		Config{},
		succeedWith(10),
	)

	// A prior run that never called FinishSession.
	crashed, err := f.rec.StartSession(0, 0)
	if err != nil {
		t.Fatal(err)
	}

	report, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	old, err := f.rec.Session(crashed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != ledger.SessionOrphaned {
		t.Errorf("crashed session status = %s, want orphaned", old.Status)
	}
	if report.SessionID == crashed.ID {
		t.Error("run reused the crashed session")
	}
	if report.Halted {
		t.Errorf("empty backlog halted: %q", report.HaltReason)
	}
}

func TestRunCancelledMidWaveReportsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	script := func(taskID string, inv harness.Invocation) (harness.Result, error) {
		// Operator interrupts during the first attempt.
		cancel()
		return harness.Result{ExitStatus: 1, Output: "interrupted"}, nil
	}

	f := newRunnerFixture(t,
		guardrail.Config{},
		executor.Config{MaxTaskIterations: 2, AutoClose: true},
		Config{},
		script,
		openTask("T1", 0),
	)

	report, err := f.runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.HaltReason != "cancelled" {
		t.Errorf("HaltReason = %q, want cancelled, not a policy halt", report.HaltReason)
	}

	// The abandoned claim is released for the next run.
	if f.backend.status("T1") != task.StatusOpen {
		t.Errorf("T1 status = %s, want open", f.backend.status("T1"))
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newRunnerFixture(t,
		guardrail.Config{},
		executor.Config{},
		Config{},
		succeedWith(10),
		openTask("T1", 0),
	)

	report, err := f.runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if report == nil || report.HaltReason != "cancelled" {
		t.Errorf("report = %+v", report)
	}
	if f.order.count("T1") != 0 {
		t.Error("task executed under a cancelled context")
	}
}
