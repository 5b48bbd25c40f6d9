package config

// DefaultConfig returns the default configuration with built-in harnesses
// and conservative guardrails.
func DefaultConfig() *Config {
	return &Config{
		Harnesses: map[string]HarnessConfig{
			"claude": {Type: "claude"},
			"codex":  {Type: "codex"},
			"goose":  {Type: "goose"},
		},
		Guardrails: GuardrailConfig{
			MaxTaskIterations: 3,
			WarnThreshold:     0.8,
			StagnationWindow:  5,
		},
		Run: RunConfig{
			Harness:     "claude",
			Parallel:    1,
			FailureMode: "move_on",
			RetryDelay:  "5s",
		},
		Paths: PathsConfig{
			Ledger:    ".taskpilot/ledger",
			TaskDB:    ".taskpilot/tasks.db",
			Workspace: ".taskpilot/work",
			Counters:  ".taskpilot/counters.json",
		},
	}
}
