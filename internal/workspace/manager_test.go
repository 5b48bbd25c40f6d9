package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndCleanup(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "work"))

	info, err := m.Create("7A1.3")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if fi, err := os.Stat(info.Path); err != nil || !fi.IsDir() {
		t.Fatalf("workspace dir missing: %v", err)
	}

	if err := m.Cleanup(info); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(info.Path); !os.IsNotExist(err) {
		t.Error("workspace dir survived cleanup")
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "work"))

	if _, err := m.Create("t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("t1"); err == nil {
		t.Error("second Create for the same task succeeded")
	}
}

func TestSanitizeTaskID(t *testing.T) {
	base := filepath.Join(t.TempDir(), "work")
	m := NewManager(base)

	info, err := m.Create("7A1.3/evil id")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(info.Path) != base {
		t.Errorf("workspace escaped base dir: %s", info.Path)
	}
}

func TestPruneRemovesStaleOnly(t *testing.T) {
	base := filepath.Join(t.TempDir(), "work")
	m := NewManager(base)

	active, err := m.Create("live")
	if err != nil {
		t.Fatal(err)
	}

	// Leftover from a crashed prior run.
	stale := filepath.Join(base, "stale")
	if err := os.MkdirAll(stale, 0755); err != nil {
		t.Fatal(err)
	}

	if err := m.Prune(); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale dir survived prune")
	}
	if _, err := os.Stat(active.Path); err != nil {
		t.Error("active workspace was pruned")
	}
}

func TestPruneMissingBase(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "never-created"))
	if err := m.Prune(); err != nil {
		t.Errorf("Prune on missing base = %v", err)
	}
}

func TestCleanupAll(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "work"))

	a, _ := m.Create("a")
	b, _ := m.Create("b")

	if err := m.CleanupAll(); err != nil {
		t.Fatalf("CleanupAll failed: %v", err)
	}
	for _, info := range []*Info{a, b} {
		if _, err := os.Stat(info.Path); !os.IsNotExist(err) {
			t.Errorf("workspace %s survived", info.TaskID)
		}
	}
}
