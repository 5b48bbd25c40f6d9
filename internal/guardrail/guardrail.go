// Package guardrail enforces the run's budget, iteration, and stagnation
// limits. Hard limits halt the run after the in-flight attempt completes,
// never mid-attempt; the engine is consulted only between attempts.
package guardrail

import (
	"fmt"
	"sync"
)

// Limit names the guardrail that fired.
type Limit string

const (
	LimitTokens     Limit = "tokens"
	LimitCost       Limit = "cost"
	LimitIterations Limit = "iterations"
	LimitStagnation Limit = "stagnation"
)

// Config holds the limits. Zero values disable the corresponding limit,
// except WarnThreshold which defaults to 0.8.
type Config struct {
	TokenLimit        int64
	CostLimit         float64
	MaxIterations     int     // Run-level iteration cap
	MaxTaskIterations int     // Per-task attempt cap (enforced by the executor)
	WarnThreshold     float64 // Fraction of a limit that emits a warning
	StagnationWindow  int     // Consecutive no-progress iterations before tripping
}

// DefaultConfig returns the default guardrail configuration.
func DefaultConfig() Config {
	return Config{
		MaxTaskIterations: 3,
		WarnThreshold:     0.8,
		StagnationWindow:  5,
	}
}

// Usage is a point-in-time snapshot of the counters.
type Usage struct {
	TokensUsed int64
	CostUsed   float64
	Iterations int
}

// Warning is emitted once per limit when usage crosses the warn threshold.
type Warning struct {
	Limit   Limit
	Used    float64
	Ceiling float64
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at %.0f of %.0f", w.Limit, w.Used, w.Ceiling)
}

// HaltError carries enough context for the operator to act: which limit,
// and the values at the time it fired.
type HaltError struct {
	Limit Limit
	Usage Usage
	Cfg   Config
}

func (e *HaltError) Error() string {
	switch e.Limit {
	case LimitTokens:
		return fmt.Sprintf("token budget exceeded: %d used of %d", e.Usage.TokensUsed, e.Cfg.TokenLimit)
	case LimitCost:
		return fmt.Sprintf("cost budget exceeded: %.4f used of %.4f", e.Usage.CostUsed, e.Cfg.CostLimit)
	case LimitIterations:
		return fmt.Sprintf("iteration limit exceeded: %d of %d", e.Usage.Iterations, e.Cfg.MaxIterations)
	case LimitStagnation:
		return fmt.Sprintf("stagnation: no progress for %d consecutive iterations", e.Cfg.StagnationWindow)
	}
	return fmt.Sprintf("guardrail %s exceeded", e.Limit)
}

// Verdict is the engine's decision for the next iteration.
type Verdict int

const (
	VerdictProceed Verdict = iota
	VerdictHalt
)

// Decision is the result of a Check call. Warnings never halt on their own.
type Decision struct {
	Verdict  Verdict
	Halt     *HaltError // Set when Verdict == VerdictHalt
	Warnings []Warning  // New warnings crossed since the last Check
}

// Engine tracks usage across a run. Safe for concurrent use: parallel
// workers in one process share the same engine, and counter updates are
// atomic increments under the lock, never last-writer-wins.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	usage      Usage
	noProgress int // Consecutive iterations without a closed task or file change
	warned     map[Limit]bool
}

// New creates an engine with the given config, filling in the default
// warning threshold when unset.
func New(cfg Config) *Engine {
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 0.8
	}
	return &Engine{cfg: cfg, warned: make(map[Limit]bool)}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RecordUsage adds an attempt's token and cost consumption.
func (e *Engine) RecordUsage(tokens int64, cost float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.TokensUsed += tokens
	e.usage.CostUsed += cost
}

// RecordIteration registers one completed loop iteration. progress is true
// when the iteration closed a task or produced a material file change; the
// stagnation counter resets on progress and grows otherwise.
func (e *Engine) RecordIteration(progress bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.Iterations++
	if progress {
		e.noProgress = 0
	} else {
		e.noProgress++
	}
}

// Usage returns a snapshot of the counters.
func (e *Engine) Usage() Usage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// Check evaluates every guardrail. Budget exhaustion and stagnation are
// independent signals: both are checked on every call, stagnation first so
// a stalled run is reported as stalled even when a budget also tripped.
func (e *Engine) Check() Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	var d Decision

	if e.cfg.StagnationWindow > 0 && e.noProgress >= e.cfg.StagnationWindow {
		d.Verdict = VerdictHalt
		d.Halt = &HaltError{Limit: LimitStagnation, Usage: e.usage, Cfg: e.cfg}
	}

	checks := []struct {
		limit   Limit
		used    float64
		ceiling float64
	}{
		{LimitTokens, float64(e.usage.TokensUsed), float64(e.cfg.TokenLimit)},
		{LimitCost, e.usage.CostUsed, e.cfg.CostLimit},
		{LimitIterations, float64(e.usage.Iterations), float64(e.cfg.MaxIterations)},
	}

	for _, c := range checks {
		if c.ceiling <= 0 {
			continue
		}
		if c.used >= c.ceiling {
			if d.Halt == nil {
				d.Verdict = VerdictHalt
				d.Halt = &HaltError{Limit: c.limit, Usage: e.usage, Cfg: e.cfg}
			}
			continue
		}
		if c.used >= c.ceiling*e.cfg.WarnThreshold && !e.warned[c.limit] {
			e.warned[c.limit] = true
			d.Warnings = append(d.Warnings, Warning{Limit: c.limit, Used: c.used, Ceiling: c.ceiling})
		}
	}

	return d
}
