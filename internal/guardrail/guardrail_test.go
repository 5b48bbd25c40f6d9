package guardrail

import "testing"

func TestCheckProceedsUnderLimits(t *testing.T) {
	e := New(Config{TokenLimit: 1000, CostLimit: 10, MaxIterations: 5})
	e.RecordUsage(100, 1)
	e.RecordIteration(true)

	d := e.Check()
	if d.Verdict != VerdictProceed {
		t.Errorf("Verdict = %v, want proceed", d.Verdict)
	}
	if len(d.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", d.Warnings)
	}
}

func TestTokenBudgetHaltsAfterInFlightAttempt(t *testing.T) {
	e := New(Config{TokenLimit: 1000})

	// An attempt runs over the limit; the overage is recorded, and the
	// halt comes on the next Check, never mid-attempt.
	e.RecordUsage(1500, 0)

	d := e.Check()
	if d.Verdict != VerdictHalt {
		t.Fatal("Verdict = proceed, want halt")
	}
	if d.Halt.Limit != LimitTokens {
		t.Errorf("Halt.Limit = %s, want tokens", d.Halt.Limit)
	}
	if d.Halt.Usage.TokensUsed != 1500 {
		t.Errorf("halt usage = %d, want the full overage recorded", d.Halt.Usage.TokensUsed)
	}
}

func TestWarnAtThreshold(t *testing.T) {
	e := New(Config{TokenLimit: 1000, WarnThreshold: 0.8})

	e.RecordUsage(790, 0)
	if d := e.Check(); len(d.Warnings) != 0 {
		t.Errorf("warned below threshold: %v", d.Warnings)
	}

	e.RecordUsage(10, 0) // Exactly 80%.
	d := e.Check()
	if len(d.Warnings) != 1 || d.Warnings[0].Limit != LimitTokens {
		t.Fatalf("Warnings = %v, want one token warning", d.Warnings)
	}
	if d.Verdict != VerdictProceed {
		t.Error("warning must not halt")
	}

	// The warning fires once, not on every subsequent check.
	if d := e.Check(); len(d.Warnings) != 0 {
		t.Errorf("warning repeated: %v", d.Warnings)
	}
}

func TestCostLimit(t *testing.T) {
	e := New(Config{CostLimit: 5.0})
	e.RecordUsage(0, 5.0)

	d := e.Check()
	if d.Verdict != VerdictHalt || d.Halt.Limit != LimitCost {
		t.Errorf("Check = %+v, want cost halt", d)
	}
}

func TestIterationLimit(t *testing.T) {
	e := New(Config{MaxIterations: 3})
	for i := 0; i < 3; i++ {
		if d := e.Check(); d.Verdict != VerdictProceed {
			t.Fatalf("halted early at iteration %d", i)
		}
		e.RecordIteration(true)
	}

	d := e.Check()
	if d.Verdict != VerdictHalt || d.Halt.Limit != LimitIterations {
		t.Errorf("Check = %+v, want iteration halt", d)
	}
}

func TestStagnationBreaker(t *testing.T) {
	e := New(Config{StagnationWindow: 3})

	e.RecordIteration(false)
	e.RecordIteration(false)
	if d := e.Check(); d.Verdict != VerdictProceed {
		t.Fatal("tripped before window filled")
	}

	// Progress resets the streak.
	e.RecordIteration(true)
	e.RecordIteration(false)
	e.RecordIteration(false)
	if d := e.Check(); d.Verdict != VerdictProceed {
		t.Fatal("progress did not reset the stagnation counter")
	}

	e.RecordIteration(false)
	d := e.Check()
	if d.Verdict != VerdictHalt || d.Halt.Limit != LimitStagnation {
		t.Errorf("Check = %+v, want stagnation halt", d)
	}
}

// Stagnation is independent of budgets: a run well under budget still trips,
// and is reported as stagnation even when a budget tripped the same check.
func TestStagnationIndependentOfBudget(t *testing.T) {
	e := New(Config{TokenLimit: 1000000, StagnationWindow: 2})
	e.RecordUsage(10, 0)
	e.RecordIteration(false)
	e.RecordIteration(false)

	d := e.Check()
	if d.Verdict != VerdictHalt || d.Halt.Limit != LimitStagnation {
		t.Errorf("Check = %+v, want stagnation halt under budget", d)
	}

	e2 := New(Config{TokenLimit: 100, StagnationWindow: 2})
	e2.RecordUsage(200, 0)
	e2.RecordIteration(false)
	e2.RecordIteration(false)
	d = e2.Check()
	if d.Halt == nil || d.Halt.Limit != LimitStagnation {
		t.Errorf("Halt = %+v, want stagnation reported over the budget trip", d.Halt)
	}
}

func TestZeroLimitsDisabled(t *testing.T) {
	e := New(Config{})
	e.RecordUsage(1_000_000, 1000)
	for i := 0; i < 100; i++ {
		e.RecordIteration(true)
	}

	if d := e.Check(); d.Verdict != VerdictProceed {
		t.Errorf("engine with zero limits halted: %+v", d.Halt)
	}
}

func TestUsageSnapshot(t *testing.T) {
	e := New(DefaultConfig())
	e.RecordUsage(100, 0.5)
	e.RecordUsage(50, 0.25)
	e.RecordIteration(true)

	u := e.Usage()
	if u.TokensUsed != 150 || u.CostUsed != 0.75 || u.Iterations != 1 {
		t.Errorf("Usage = %+v", u)
	}
}
