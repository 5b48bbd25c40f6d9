package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/taskpilot/internal/fstore"
)

// IndexRow is the compact per-task record used for filtering without
// loading full entries.
type IndexRow struct {
	Stage     Stage     `json:"stage,omitempty"`
	Cost      float64   `json:"cost"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// indexRecord is the shared flat index file, keyed by task ID.
type indexRecord struct {
	fstore.Meta
	Rows map[string]IndexRow `json:"rows"`
}

const maxIndexRetries = 10

func (r *Recorder) indexPath() string {
	return filepath.Join(r.root, "index.json")
}

// Index returns the current index rows.
func (r *Recorder) Index() (map[string]IndexRow, error) {
	var rec indexRecord
	if err := fstore.Read(r.indexPath(), &rec); err != nil {
		return nil, err
	}
	if rec.Rows == nil {
		rec.Rows = make(map[string]IndexRow)
	}
	return rec.Rows, nil
}

// updateIndex refreshes a task's index row. The index file is shared by all
// workers, so it uses the same read-modify-write-retry discipline as the
// counter store, plus a keyed lock so same-process workers serialize
// instead of racing.
func (r *Recorder) updateIndex(taskID string, entry *Entry) error {
	path := r.indexPath()
	r.locks.lock(path)
	defer r.locks.unlock(path)

	var cost float64
	for _, a := range entry.Attempts {
		cost += a.Cost
	}
	row := IndexRow{
		Stage:     entry.Workflow.Stage,
		Cost:      cost,
		Attempts:  len(entry.Attempts),
		UpdatedAt: time.Now().UTC(),
	}

	operation := func() error {
		var rec indexRecord
		if err := fstore.Read(path, &rec); err != nil {
			return backoff.Permanent(err)
		}
		if rec.Rows == nil {
			rec.Rows = make(map[string]IndexRow)
		}
		rec.Rows[taskID] = row

		if err := fstore.Commit(path, &rec, rec.Meta.Version); err != nil {
			if errors.Is(err, fstore.ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	if err := backoff.Retry(operation, backoff.WithMaxRetries(policy, maxIndexRetries)); err != nil {
		return fmt.Errorf("%w: updating index for %s: %v", ErrLedgerWrite, taskID, err)
	}
	return nil
}
