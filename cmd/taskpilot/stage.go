package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskpilot/internal/ledger"
)

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Move tasks through the post-completion workflow",
	}
	cmd.AddCommand(newStageAdvanceCmd(), newStageRevertCmd())
	return cmd
}

func openRecorder() (*ledger.Recorder, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return ledger.NewRecorder(cfg.Paths.Ledger), nil
}

func newStageAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <task-id> <stage>",
		Short: "Advance a task to a later workflow stage",
		Long:  "Stages in order: dev_complete, needs_review, validated, released.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := openRecorder()
			if err != nil {
				return err
			}
			if err := rec.AdvanceStage(args[0], ledger.Stage(args[1])); err != nil {
				return err
			}
			fmt.Printf("%s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func newStageRevertCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revert <task-id> <stage>",
		Short: "Revert a task to an earlier workflow stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("reverts require --reason")
			}
			rec, err := openRecorder()
			if err != nil {
				return err
			}
			if err := rec.RevertStage(args[0], ledger.Stage(args[1]), reason); err != nil {
				return err
			}
			fmt.Printf("%s -> %s (%s)\n", args[0], args[1], reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the task is moving backward")
	return cmd
}
