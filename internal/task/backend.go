package task

import "context"

// Backend is the port to the task storage system. The engine never assumes a
// specific storage format behind it; the sqlite implementation in
// internal/taskstore is one adapter.
type Backend interface {
	// List returns a snapshot of tasks matching the filter.
	List(ctx context.Context, f Filter) ([]*Task, error)

	// Get returns a single task by ID.
	Get(ctx context.Context, id string) (*Task, error)

	// Claim atomically transitions a task from open to in_progress.
	// Returns false (without error) if the task was not open, so two
	// workers can never claim the same task.
	Claim(ctx context.Context, id string) (bool, error)

	// Close marks a task closed.
	Close(ctx context.Context, id string) error

	// Reopen returns an in_progress task to open.
	Reopen(ctx context.Context, id string) error
}
