// Command taskpilot drives an AI coding agent through a backlog of
// dependent tasks: schedule by dependency, execute with bounded retries,
// record everything in a file ledger, stop when a guardrail trips.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/taskpilot/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "taskpilot",
		Short:         "Autonomous task execution engine for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newBlockersCmd(),
		newUnblocksCmd(),
		newTaskCmd(),
		newStageCmd(),
		newInitCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig is the shared config entry point for every subcommand.
func loadConfig() (*config.Config, error) {
	return config.LoadDefault()
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default project config to .taskpilot/config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ".taskpilot/config.json"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}
