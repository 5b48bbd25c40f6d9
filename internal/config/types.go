package config

// HarnessConfig parameterizes one agent CLI the engine can drive.
type HarnessConfig struct {
	Type         string `json:"type"`                    // "claude", "codex", or "goose"
	Model        string `json:"model,omitempty"`         // Model override
	Provider     string `json:"provider,omitempty"`      // Goose local LLM provider (e.g. "ollama")
	SystemPrompt string `json:"system_prompt,omitempty"` // Role prompt for every invocation
}

// GuardrailConfig holds the run budgets. Zero disables a limit.
type GuardrailConfig struct {
	TokenLimit        int64   `json:"token_limit,omitempty"`
	CostLimit         float64 `json:"cost_limit,omitempty"`
	MaxIterations     int     `json:"max_iterations,omitempty"`
	MaxTaskIterations int     `json:"max_task_iterations,omitempty"`
	WarnThreshold     float64 `json:"warn_threshold,omitempty"`
	StagnationWindow  int     `json:"stagnation_window,omitempty"`
}

// RunConfig controls run-loop behavior.
type RunConfig struct {
	Harness        string  `json:"harness"`                   // Key into Harnesses map
	Parallel       int     `json:"parallel,omitempty"`        // Max concurrent tasks; <= 1 is sequential
	FailureMode    string  `json:"failure_mode,omitempty"`    // "stop", "move_on", or "triage"
	AutoClose      bool    `json:"auto_close,omitempty"`      // Close tasks on harness success
	AttemptTimeout string  `json:"attempt_timeout,omitempty"` // Go duration string; empty disables
	RetryDelay     string  `json:"retry_delay,omitempty"`     // Pause between attempts of one task
	CostPerToken   float64 `json:"cost_per_token,omitempty"`
}

// PathsConfig locates the engine's on-disk state.
type PathsConfig struct {
	Ledger    string `json:"ledger,omitempty"`    // Ledger root directory
	TaskDB    string `json:"task_db,omitempty"`   // SQLite task backend file
	Workspace string `json:"workspace,omitempty"` // Base dir for per-task working copies
	Counters  string `json:"counters,omitempty"`  // ID allocator counter file
}

// Config is the top-level configuration.
type Config struct {
	Harnesses  map[string]HarnessConfig `json:"harnesses"`
	Guardrails GuardrailConfig          `json:"guardrails"`
	Run        RunConfig                `json:"run"`
	Paths      PathsConfig              `json:"paths"`
}
