package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/aristath/taskpilot/internal/fstore"
)

// SessionStatus is the lifecycle state of a run session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionOrphaned  SessionStatus = "orphaned"
)

// Session is the per-run record: budget counters aggregated across workers
// and the current task reference. Exactly one session is active per project
// at a time, tracked by the runs/current symlink.
type Session struct {
	fstore.Meta
	ID             string        `json:"id"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at,omitempty"`
	TokensUsed     int64         `json:"tokens_used"`
	TokenLimit     int64         `json:"token_limit,omitempty"`
	CostUsed       float64       `json:"cost_used"`
	CostLimit      float64       `json:"cost_limit,omitempty"`
	TasksCompleted int           `json:"tasks_completed"`
	CurrentTask    string        `json:"current_task,omitempty"`
	HaltReason     string        `json:"halt_reason,omitempty"`
}

func (r *Recorder) runsDir() string {
	return filepath.Join(r.root, "runs")
}

func (r *Recorder) sessionPath(id string) string {
	return filepath.Join(r.runsDir(), id+".json")
}

func (r *Recorder) currentPath() string {
	return filepath.Join(r.runsDir(), "current")
}

// StartSession creates a new running session and atomically repoints the
// runs/current symlink at it. Call RecoverOrphan first; a crashed prior
// session is detected from the old pointer.
func (r *Recorder) StartSession(tokenLimit int64, costLimit float64) (*Session, error) {
	s := &Session{
		ID:         uuid.NewString(),
		Status:     SessionRunning,
		StartedAt:  time.Now().UTC(),
		TokenLimit: tokenLimit,
		CostLimit:  costLimit,
	}
	if err := os.MkdirAll(r.runsDir(), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating runs dir: %v", ErrLedgerWrite, err)
	}
	if err := fstore.Commit(r.sessionPath(s.ID), s, 0); err != nil {
		return nil, fmt.Errorf("%w: writing session: %v", ErrLedgerWrite, err)
	}

	// Atomic pointer replacement: symlink to a temp name, then rename over.
	tmp := r.currentPath() + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(s.ID+".json", tmp); err != nil {
		return nil, fmt.Errorf("%w: creating session pointer: %v", ErrLedgerWrite, err)
	}
	if err := os.Rename(tmp, r.currentPath()); err != nil {
		return nil, fmt.Errorf("%w: replacing session pointer: %v", ErrLedgerWrite, err)
	}
	return s, nil
}

// Session loads a session by ID.
func (r *Recorder) Session(id string) (*Session, error) {
	var s Session
	if err := fstore.Read(r.sessionPath(id), &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &s, nil
}

// CurrentSession resolves the runs/current pointer. Returns nil without
// error when no session has ever run.
func (r *Recorder) CurrentSession() (*Session, error) {
	target, err := os.Readlink(r.currentPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session pointer: %w", err)
	}
	id := target[:len(target)-len(".json")]
	return r.Session(id)
}

// UpdateSession applies fn to the session under the shared-counter
// discipline: read, modify, commit against the version read, retry on
// conflict. Budget counters from parallel workers aggregate instead of
// clobbering each other.
func (r *Recorder) UpdateSession(id string, fn func(*Session)) error {
	path := r.sessionPath(id)
	r.locks.lock(path)
	defer r.locks.unlock(path)

	operation := func() error {
		var s Session
		if err := fstore.Read(path, &s); err != nil {
			return backoff.Permanent(err)
		}
		if s.ID == "" {
			return backoff.Permanent(fmt.Errorf("session %s not found", id))
		}
		fn(&s)
		if err := fstore.Commit(path, &s, s.Meta.Version); err != nil {
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
		return fmt.Errorf("%w: updating session %s: %v", ErrLedgerWrite, id, err)
	}
	return nil
}

// FinishSession marks the session terminal with the given status.
func (r *Recorder) FinishSession(id string, status SessionStatus, haltReason string) error {
	return r.UpdateSession(id, func(s *Session) {
		s.Status = status
		s.EndedAt = time.Now().UTC()
		s.CurrentTask = ""
		s.HaltReason = haltReason
	})
}

// RecoverOrphan checks the current pointer at startup. A session still
// marked running crashed without a clean exit; it is marked orphaned.
// Returns the orphaned session, or nil when the prior run exited cleanly.
func (r *Recorder) RecoverOrphan() (*Session, error) {
	s, err := r.CurrentSession()
	if err != nil || s == nil {
		return nil, err
	}
	if s.Status != SessionRunning {
		return nil, nil
	}
	if err := r.FinishSession(s.ID, SessionOrphaned, "session did not exit cleanly"); err != nil {
		return nil, err
	}
	return r.Session(s.ID)
}
