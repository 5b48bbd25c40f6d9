package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskpilot/internal/graph"
	"github.com/aristath/taskpilot/internal/task"
	"github.com/aristath/taskpilot/internal/taskstore"
)

// loadGraph builds the dependency graph from the full backlog snapshot.
func loadGraph(ctx context.Context) (*graph.Graph, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := taskstore.New(ctx, cfg.Paths.TaskDB)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := store.List(ctx, task.Filter{})
	if err != nil {
		store.Shutdown()
		return nil, nil, err
	}
	g, err := graph.Build(tasks)
	if err != nil {
		store.Shutdown()
		return nil, nil, err
	}
	return g, func() { store.Shutdown() }, nil
}

func newBlockersCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "blockers",
		Short: "Show the tasks whose completion would unblock the most work",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, done, err := loadGraph(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if cyc := g.Cycle(); cyc != nil {
				fmt.Printf("WARNING: %v\n\n", cyc)
			}

			blockers := g.RootBlockers(limit)
			if len(blockers) == 0 {
				fmt.Println("Nothing is blocked.")
				return nil
			}
			fmt.Printf("%-12s %s\n", "TASK", "UNBLOCKS")
			for _, b := range blockers {
				fmt.Printf("%-12s %d\n", b.ID, b.Unblocks)
			}

			chains := g.Chains(5)
			if len(chains) > 0 {
				fmt.Println("\nLongest dependency chains:")
				for _, c := range chains {
					fmt.Printf("  %s\n", strings.Join(c, " -> "))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max blockers to show")
	return cmd
}

func newUnblocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblocks <task-id>",
		Short: "Show what closing a task would unblock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, done, err := loadGraph(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			id := args[0]
			if _, ok := g.Task(id); !ok {
				return fmt.Errorf("task %s not found", id)
			}

			ready := g.WouldBecomeReady(id)
			all := g.TransitiveUnblocks(id)

			if len(all) == 0 {
				fmt.Printf("Closing %s unblocks nothing.\n", id)
				return nil
			}
			fmt.Printf("Closing %s makes %d task(s) immediately ready:\n", id, len(ready))
			for _, r := range ready {
				fmt.Printf("  %s\n", r)
			}
			fmt.Printf("Transitively unblocks %d task(s): %s\n", len(all), strings.Join(all, ", "))
			return nil
		},
	}
}
