package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/taskpilot/internal/task"
)

// ErrNotFound is returned when a task ID does not exist.
var ErrNotFound = errors.New("taskstore: task not found")

const queryTimeout = 5 * time.Second

// Save upserts a task with its dependencies and labels.
func (s *Store) Save(ctx context.Context, t *task.Task) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	status := t.Status
	if status == "" {
		status = task.StatusOpen
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, epic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			priority = excluded.priority,
			epic = excluded.epic,
			updated_at = CURRENT_TIMESTAMP
	`, t.ID, t.Title, string(status), t.Priority, t.Epic)
	if err != nil {
		return fmt.Errorf("upserting task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clearing dependencies: %w", err)
	}
	for _, depID := range t.DependsOn {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
		`, t.ID, depID); err != nil {
			return fmt.Errorf("inserting dependency %s -> %s: %w", t.ID, depID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clearing labels: %w", err)
	}
	for _, label := range t.Labels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_labels (task_id, label) VALUES (?, ?)
		`, t.ID, label); err != nil {
			return fmt.Errorf("inserting label %q: %w", label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Get returns a task by ID with dependencies and labels loaded.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	t := &task.Task{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, priority, epic, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &status, &t.Priority, &t.Epic, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	t.Status = task.Status(status)

	if t.DependsOn, err = s.queryStrings(ctx,
		`SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id`, id); err != nil {
		return nil, err
	}
	if t.Labels, err = s.queryStrings(ctx,
		`SELECT label FROM task_labels WHERE task_id = ? ORDER BY label`, id); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns a snapshot of tasks matching the filter, in ID order.
func (s *Store) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}

	var out []*task.Task
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Claim atomically transitions open -> in_progress. The conditional UPDATE
// is the atomicity guarantee: exactly one concurrent claimer sees one
// affected row.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, string(task.StatusInProgress), id, string(task.StatusOpen))
	if err != nil {
		return false, fmt.Errorf("claiming task %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading claim result: %w", err)
	}
	return affected == 1, nil
}

// Close marks a task closed.
func (s *Store) Close(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, task.StatusClosed)
}

// Reopen returns a task to open.
func (s *Store) Reopen(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, task.StatusOpen)
}

func (s *Store) setStatus(ctx context.Context, id string, status task.Status) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating task %s status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
