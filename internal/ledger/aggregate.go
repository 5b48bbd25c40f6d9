package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Aggregate is the derived rollup for an epic or plan. It is always
// recomputed from the full set of child entries, never patched
// incrementally, so it cannot drift from ground truth.
type Aggregate struct {
	ID             string    `json:"id"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	TotalCost      float64   `json:"total_cost"`
	TotalTokens    int64     `json:"total_tokens"`
	EscalationRate float64   `json:"escalation_rate"` // Fraction of finalized tasks that escalated
	AvgCostPerTask float64   `json:"avg_cost_per_task"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// recomputeAggregates rebuilds the epic and plan rollups a finalized entry
// belongs to.
func (r *Recorder) recomputeAggregates(lin Lineage) error {
	if lin.Epic != "" {
		if err := r.recomputeAggregate("epics", lin.Epic, func(e *Entry) bool {
			return e.Lineage.Epic == lin.Epic
		}); err != nil {
			return err
		}
	}
	if lin.Plan != "" {
		if err := r.recomputeAggregate("plans", lin.Plan, func(e *Entry) bool {
			return e.Lineage.Plan == lin.Plan
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) recomputeAggregate(kind, id string, member func(*Entry) bool) error {
	entries, err := r.allEntries()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	agg := Aggregate{ID: id, UpdatedAt: time.Now().UTC()}
	escalated := 0
	finalized := 0

	for _, e := range entries {
		if !member(e) {
			continue
		}
		agg.TotalTasks++
		for _, a := range e.Attempts {
			agg.TotalCost += a.Cost
			agg.TotalTokens += a.TokensUsed
		}
		if e.Final == nil {
			continue
		}
		finalized++
		if e.Final.Status == OutcomeCompleted {
			agg.CompletedTasks++
		}
		if e.Final.Status == OutcomeEscalated {
			escalated++
		}
	}

	if finalized > 0 {
		agg.EscalationRate = float64(escalated) / float64(finalized)
	}
	if agg.TotalTasks > 0 {
		agg.AvgCostPerTask = agg.TotalCost / float64(agg.TotalTasks)
	}

	path := filepath.Join(r.root, kind, id+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating %s dir: %v", ErrLedgerWrite, kind, err)
	}

	data, err := json.MarshalIndent(&agg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling aggregate: %v", ErrLedgerWrite, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: writing aggregate: %v", ErrLedgerWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replacing aggregate: %v", ErrLedgerWrite, err)
	}
	return nil
}

// Aggregate loads an epic or plan rollup. kind is "epics" or "plans".
func (r *Recorder) Aggregate(kind, id string) (*Aggregate, error) {
	data, err := os.ReadFile(filepath.Join(r.root, kind, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("reading %s aggregate %s: %w", kind, id, err)
	}
	var agg Aggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("parsing %s aggregate %s: %w", kind, id, err)
	}
	return &agg, nil
}

// allEntries loads every task entry in the ledger.
func (r *Recorder) allEntries() ([]*Entry, error) {
	tasksDir := filepath.Join(r.root, "tasks")
	dirs, err := os.ReadDir(tasksDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tasks dir: %w", err)
	}

	var entries []*Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		e, err := r.Entry(d.Name())
		if err != nil {
			continue // Half-written entries are skipped, not fatal to rollups
		}
		entries = append(entries, e)
	}
	return entries, nil
}
