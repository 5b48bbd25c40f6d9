// Package workspace provisions isolated per-task working directories for
// parallel execution. Branching/merging of actual repositories is an
// external concern; the engine only guarantees that concurrent workers
// never share a mutable working copy.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Info describes one provisioned workspace.
type Info struct {
	TaskID string
	Path   string
}

// Manager creates and cleans per-task directories under a base dir.
type Manager struct {
	mu     sync.Mutex
	base   string
	active map[string]*Info
}

// NewManager creates a manager rooted at base (default ".taskpilot/work").
func NewManager(base string) *Manager {
	if base == "" {
		base = filepath.Join(".taskpilot", "work")
	}
	return &Manager{base: base, active: make(map[string]*Info)}
}

// Create provisions a fresh directory for the task. Fails if one already
// exists for the same task: that means another worker holds it, or a crash
// left it behind and Prune was skipped.
func (m *Manager) Create(taskID string) (*Info, error) {
	path := filepath.Join(m.base, sanitize(taskID))

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("workspace for task %s already exists at %s", taskID, path)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace for task %s: %w", taskID, err)
	}

	info := &Info{TaskID: taskID, Path: path}
	m.mu.Lock()
	m.active[taskID] = info
	m.mu.Unlock()
	return info, nil
}

// Cleanup removes a workspace after its task finished.
func (m *Manager) Cleanup(info *Info) error {
	m.mu.Lock()
	delete(m.active, info.TaskID)
	m.mu.Unlock()

	if err := os.RemoveAll(info.Path); err != nil {
		return fmt.Errorf("removing workspace %s: %w", info.Path, err)
	}
	return nil
}

// Prune removes every directory under the base that is not an active
// workspace. Called at run start to clear leftovers from prior crashes.
func (m *Manager) Prune() error {
	entries, err := os.ReadDir(m.base)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading workspace base %s: %w", m.base, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		stale := true
		for _, info := range m.active {
			if filepath.Base(info.Path) == e.Name() {
				stale = false
				break
			}
		}
		if stale {
			if err := os.RemoveAll(filepath.Join(m.base, e.Name())); err != nil {
				return fmt.Errorf("pruning stale workspace %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// CleanupAll force-removes every active workspace. Used on shutdown.
func (m *Manager) CleanupAll() error {
	m.mu.Lock()
	infos := make([]*Info, 0, len(m.active))
	for _, info := range m.active {
		infos = append(infos, info)
	}
	m.mu.Unlock()

	var firstErr error
	for _, info := range infos {
		if err := m.Cleanup(info); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sanitize maps a task ID to a safe directory name.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
