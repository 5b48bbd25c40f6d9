// Package ident issues globally unique hierarchical identifiers by
// incrementing named counters in a small shared record under optimistic
// locking. Allocators never hold counter values in memory across calls;
// every allocation is a fresh read-increment-commit cycle.
package ident

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/taskpilot/internal/fstore"
)

// ErrAllocationConflict is returned when an allocation keeps losing the
// optimistic-lock race past the bounded retry count.
var ErrAllocationConflict = errors.New("ident: allocation conflict retries exhausted")

// maxConflictRetries bounds how many times one Allocate call retries the
// read-increment-commit cycle before surfacing the conflict.
const maxConflictRetries = 10

// counterRecord is the shared counter store: counter name -> last issued value.
type counterRecord struct {
	fstore.Meta
	Counters map[string]int `json:"counters"`
}

// Allocator mints counter values against a shared record file.
type Allocator struct {
	path string
}

// NewAllocator creates an allocator backed by the record at path.
func NewAllocator(path string) *Allocator {
	return &Allocator{path: path}
}

// Allocate increments the named counter and returns the new value.
// Concurrent allocations of the same counter yield distinct, gapless
// values: a commit that lost the race is detected and the whole cycle is
// retried, never overwritten.
func (a *Allocator) Allocate(name string) (int, error) {
	var value int

	operation := func() error {
		var rec counterRecord
		if err := fstore.Read(a.path, &rec); err != nil {
			return backoff.Permanent(err)
		}
		if rec.Counters == nil {
			rec.Counters = make(map[string]int)
		}

		next := rec.Counters[name] + 1
		rec.Counters[name] = next

		if err := fstore.Commit(a.path, &rec, rec.Meta.Version); err != nil {
			if errors.Is(err, fstore.ErrConflict) {
				return err // Transient: retried by the backoff policy
			}
			return backoff.Permanent(err)
		}

		value = next
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy, maxConflictRetries))
	if err != nil {
		if errors.Is(err, fstore.ErrConflict) {
			return 0, fmt.Errorf("%w: counter %q", ErrAllocationConflict, name)
		}
		return 0, err
	}
	return value, nil
}

// Peek returns the last issued value for the named counter without
// incrementing it. Zero if the counter has never been used.
func (a *Allocator) Peek(name string) (int, error) {
	var rec counterRecord
	if err := fstore.Read(a.path, &rec); err != nil {
		return 0, err
	}
	return rec.Counters[name], nil
}
