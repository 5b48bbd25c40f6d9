package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aristath/taskpilot/internal/ledger"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session and per-task ledger summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec := ledger.NewRecorder(cfg.Paths.Ledger)

			session, err := rec.CurrentSession()
			if err != nil {
				return err
			}
			if session == nil {
				fmt.Println("No run sessions recorded yet.")
			} else {
				printSession(session)
			}

			rows, err := rec.Index()
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}

			ids := make([]string, 0, len(rows))
			for id := range rows {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Printf("\n%-12s %-14s %8s %10s\n", "TASK", "STAGE", "ATTEMPTS", "COST")
			for _, id := range ids {
				row := rows[id]
				stage := string(row.Stage)
				if stage == "" {
					stage = "-"
				}
				fmt.Printf("%-12s %-14s %8d %10.4f\n", id, stage, row.Attempts, row.Cost)
			}
			return nil
		},
	}
}

func printSession(s *ledger.Session) {
	fmt.Printf("Session %s: %s\n", s.ID, s.Status)
	fmt.Printf("  Started:   %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	if !s.EndedAt.IsZero() {
		fmt.Printf("  Ended:     %s\n", s.EndedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("  Completed: %d tasks\n", s.TasksCompleted)
	if s.TokenLimit > 0 {
		fmt.Printf("  Tokens:    %d of %d\n", s.TokensUsed, s.TokenLimit)
	} else {
		fmt.Printf("  Tokens:    %d\n", s.TokensUsed)
	}
	if s.CostLimit > 0 {
		fmt.Printf("  Cost:      %.4f of %.4f\n", s.CostUsed, s.CostLimit)
	} else if s.CostUsed > 0 {
		fmt.Printf("  Cost:      %.4f\n", s.CostUsed)
	}
	if s.CurrentTask != "" {
		fmt.Printf("  Current:   %s\n", s.CurrentTask)
	}
	if s.HaltReason != "" {
		fmt.Printf("  Stopped:   %s\n", s.HaltReason)
	}
}
