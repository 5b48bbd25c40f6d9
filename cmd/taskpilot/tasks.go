package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskpilot/internal/ident"
	"github.com/aristath/taskpilot/internal/task"
	"github.com/aristath/taskpilot/internal/taskstore"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the backlog",
	}
	cmd.AddCommand(newTaskAddCmd(), newTaskListCmd(), newTaskCloseCmd(), newTaskReopenCmd())
	return cmd
}

func openStore(cmd *cobra.Command) (*taskstore.Store, *ident.Allocator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := taskstore.New(cmd.Context(), cfg.Paths.TaskDB)
	if err != nil {
		return nil, nil, err
	}
	return store, ident.NewAllocator(cfg.Paths.Counters), nil
}

func newTaskAddCmd() *cobra.Command {
	var (
		epic     string
		priority int
		deps     []string
		labels   []string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task, allocating its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, alloc, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			// Task numbers are per epic so IDs read as "7A1.3"; standalone
			// tasks share one global counter.
			var id string
			if epic != "" {
				n, err := alloc.Allocate("task:" + epic)
				if err != nil {
					return err
				}
				id = ident.TaskID(epic, n)
			} else {
				n, err := alloc.Allocate(ident.CounterTask)
				if err != nil {
					return err
				}
				id = ident.StandaloneTaskID(n)
			}

			now := time.Now().UTC()
			t := &task.Task{
				ID:        id,
				Title:     args[0],
				Status:    task.StatusOpen,
				Priority:  priority,
				DependsOn: deps,
				Epic:      epic,
				Labels:    labels,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := store.Save(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&epic, "epic", "", "parent epic ID")
	cmd.Flags().IntVar(&priority, "priority", 2, "priority (lower is more urgent)")
	cmd.Flags().StringSliceVar(&deps, "depends", nil, "task IDs this task depends on")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "labels to attach")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			tasks, err := store.List(cmd.Context(), task.Filter{Status: task.Status(status)})
			if err != nil {
				return err
			}
			sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

			fmt.Printf("%-12s %-12s %3s  %s\n", "ID", "STATUS", "PRI", "TITLE")
			for _, t := range tasks {
				fmt.Printf("%-12s %-12s %3d  %s\n", t.ID, t.Status, t.Priority, t.Title)
				if len(t.DependsOn) > 0 {
					fmt.Printf("%-12s   depends on %v\n", "", t.DependsOn)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (open, in_progress, closed)")
	return cmd
}

func newTaskCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <task-id>",
		Short: "Close a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Shutdown()
			return store.Close(cmd.Context(), args[0])
		},
	}
}

func newTaskReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <task-id>",
		Short: "Reopen a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Shutdown()
			return store.Reopen(cmd.Context(), args[0])
		},
	}
}
