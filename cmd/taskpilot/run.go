package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskpilot/internal/config"
	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/executor"
	"github.com/aristath/taskpilot/internal/guardrail"
	"github.com/aristath/taskpilot/internal/harness"
	"github.com/aristath/taskpilot/internal/ledger"
	"github.com/aristath/taskpilot/internal/orchestrator"
	"github.com/aristath/taskpilot/internal/task"
	"github.com/aristath/taskpilot/internal/taskstore"
	"github.com/aristath/taskpilot/internal/workspace"
)

func newRunCmd() *cobra.Command {
	var (
		epic     string
		labels   []string
		parallel int
		harnKey  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the backlog until complete, blocked, or halted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if parallel > 0 {
				cfg.Run.Parallel = parallel
			}
			if harnKey != "" {
				cfg.Run.Harness = harnKey
			}
			filter := task.Filter{Epic: epic, Labels: labels}
			return runEngine(cfg, filter)
		},
	}

	cmd.Flags().StringVar(&epic, "epic", "", "restrict to tasks under this epic")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "restrict to tasks carrying all given labels")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "max concurrent tasks (overrides config)")
	cmd.Flags().StringVar(&harnKey, "harness", "", "harness to run tasks with (overrides config)")
	return cmd
}

func runEngine(cfg *config.Config, filter task.Filter) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hc, ok := cfg.Harnesses[cfg.Run.Harness]
	if !ok {
		return fmt.Errorf("unknown harness %q", cfg.Run.Harness)
	}

	attemptTimeout, err := parseDuration(cfg.Run.AttemptTimeout)
	if err != nil {
		return fmt.Errorf("invalid attempt_timeout: %w", err)
	}
	retryDelay, err := parseDuration(cfg.Run.RetryDelay)
	if err != nil {
		return fmt.Errorf("invalid retry_delay: %w", err)
	}

	store, err := taskstore.New(ctx, cfg.Paths.TaskDB)
	if err != nil {
		return err
	}
	defer store.Shutdown()

	pm := harness.NewProcessManager()
	defer func() {
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
	}()

	bus := events.NewBus()
	defer bus.Close()
	go logEvents(bus.Subscribe("", 256))

	rec := ledger.NewRecorder(cfg.Paths.Ledger)
	guard := guardrail.New(guardrail.Config{
		TokenLimit:        cfg.Guardrails.TokenLimit,
		CostLimit:         cfg.Guardrails.CostLimit,
		MaxIterations:     cfg.Guardrails.MaxIterations,
		MaxTaskIterations: cfg.Guardrails.MaxTaskIterations,
		WarnThreshold:     cfg.Guardrails.WarnThreshold,
		StagnationWindow:  cfg.Guardrails.StagnationWindow,
	})

	var triage *orchestrator.TriageChannel
	var triageFn executor.TriageFunc
	if executor.FailureMode(cfg.Run.FailureMode) == executor.FailTriage {
		buf := cfg.Run.Parallel * 2
		if buf < 2 {
			buf = 2
		}
		triage = orchestrator.NewTriageChannel(buf, promptTriage)
		triageFn = triage.Ask
	}

	exec := executor.New(store, guard, rec, bus, triageFn, executor.Config{
		MaxTaskIterations: cfg.Guardrails.MaxTaskIterations,
		AttemptTimeout:    attemptTimeout,
		RetryDelay:        retryDelay,
		FailureMode:       executor.FailureMode(cfg.Run.FailureMode),
		AutoClose:         cfg.Run.AutoClose,
		CostPerToken:      cfg.Run.CostPerToken,
	})

	workspaces := workspace.NewManager(cfg.Paths.Workspace)

	runner := orchestrator.NewRunner(store, guard, rec, bus, exec, workspaces, triage, orchestrator.Config{
		Parallel:    cfg.Run.Parallel,
		Filter:      filter,
		HarnessKind: cfg.Run.Harness,
		HarnessFactory: func(kind, workDir string) (harness.Harness, error) {
			return harness.New(harness.Config{
				Type:         hc.Type,
				WorkDir:      workDir,
				Model:        hc.Model,
				Provider:     hc.Provider,
				SystemPrompt: hc.SystemPrompt,
			}, pm)
		},
	})

	report, err := runner.Run(ctx)
	if report != nil {
		printReport(report)
	}
	if err != nil && ctx.Err() != nil {
		log.Println("Shutdown signal received, cleaning up...")
		return nil
	}
	return err
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// promptTriage asks the operator on the terminal how to resolve an
// escalated task.
func promptTriage(ctx context.Context, taskID, reason string) (executor.TriageAction, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("\nTriage: %s\n[r]etry / [s]kip / [a]bort? ", reason)
		line, err := reader.ReadString('\n')
		if err != nil {
			return executor.TriageAbort, fmt.Errorf("reading triage decision for %s: %w", taskID, err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "retry":
			return executor.TriageRetry, nil
		case "s", "skip":
			return executor.TriageSkip, nil
		case "a", "abort":
			return executor.TriageAbort, nil
		}
		fmt.Println("Please answer r, s, or a.")
	}
}

// logEvents drains the bus so the buffered channel never fills, logging a
// readable line per event.
func logEvents(ch <-chan events.Event) {
	for e := range ch {
		switch ev := e.(type) {
		case events.TaskSelected:
			log.Printf("Selected task %s (priority %d)", ev.ID, ev.Priority)
		case events.AttemptStarted:
			log.Printf("Task %s: attempt %d started", ev.ID, ev.Number)
		case events.AttemptFinished:
			log.Printf("Task %s: attempt %d %s (%d tokens, %s)", ev.ID, ev.Number, ev.Outcome, ev.TokensUsed, ev.Duration.Round(time.Second))
		case events.TaskEscalated:
			log.Printf("Task %s escalated after %d attempts (%s)", ev.ID, ev.Attempts, ev.FailureMode)
		case events.GuardrailWarning:
			log.Printf("WARNING: guardrail %s", ev.Warning)
		case events.GuardrailHalt:
			log.Printf("HALT: %v", ev.Reason)
		case events.SessionOrphaned:
			log.Printf("Recovered orphaned session %s", ev.SessionID)
		case events.SessionStarted:
			log.Printf("Session %s started", ev.SessionID)
		case events.SessionFinished:
			log.Printf("Session %s finished: %s", ev.SessionID, ev.Status)
		}
	}
}

func printReport(r *orchestrator.Report) {
	fmt.Printf("\nSession %s\n", r.SessionID)
	fmt.Printf("  Completed: %d\n", r.Completed)
	fmt.Printf("  Escalated: %d\n", r.Escalated)
	if r.HaltReason != "" {
		fmt.Printf("  Stopped:   %s\n", r.HaltReason)
	}
}
