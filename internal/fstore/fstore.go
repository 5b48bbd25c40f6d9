// Package fstore implements versioned read-modify-write for small shared
// JSON records on a durable filesystem. Writers read a record with its
// version, modify it, and commit against the version they read; a commit
// against a stale version fails with ErrConflict so the caller retries the
// whole cycle instead of overwriting a concurrent update.
package fstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrConflict signals that the record changed between read and commit.
var ErrConflict = errors.New("fstore: version conflict")

// staleLockAge is how old a lock file must be before it is presumed
// abandoned by a crashed writer and broken. Live commits hold the lock for
// milliseconds.
const staleLockAge = 10 * time.Second

// Versioned is implemented by records stored through this package.
type Versioned interface {
	FileVersion() int
	SetFileVersion(int)
}

// Meta embeds the version counter into a stored record.
type Meta struct {
	Version int `json:"version"`
}

func (m *Meta) FileVersion() int     { return m.Version }
func (m *Meta) SetFileVersion(v int) { m.Version = v }

// Read decodes the record at path into v. A missing file is not an error:
// v is left at its zero value (version 0), so the first Commit expects 0.
func Read(path string, v Versioned) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Commit writes v to path if and only if the record on disk still carries
// the expected version. The write itself is a temp-file rename, so readers
// never observe a partial record. The brief lock file makes the
// check-and-rename section exclusive across processes; failure to acquire
// it is reported as ErrConflict and retried by the caller like any other
// conflict.
func Commit(path string, v Versioned, expect int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	lockPath := path + ".lock"
	held, err := acquireLock(lockPath)
	if err != nil {
		return fmt.Errorf("acquiring lock for %s: %w", path, err)
	}
	if !held {
		return ErrConflict
	}
	defer os.Remove(lockPath)

	// Re-check the version under the lock.
	var current Meta
	if err := Read(path, &current); err != nil {
		return err
	}
	if current.Version != expect {
		return ErrConflict
	}

	v.SetFileVersion(expect + 1)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// acquireLock creates the lock file exclusively. A lock whose mtime is
// older than staleLockAge belongs to a writer that died between create and
// remove; it is broken and acquisition retried, so one crash does not wedge
// the record forever. Returns false when a live writer holds the lock.
func acquireLock(lockPath string) (bool, error) {
	for tries := 0; tries < 2; tries++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return true, nil
		}
		if !os.IsExist(err) {
			return false, err
		}

		fi, statErr := os.Stat(lockPath)
		if statErr != nil || time.Since(fi.ModTime()) < staleLockAge {
			return false, nil
		}
		os.Remove(lockPath)
	}
	return false, nil
}
