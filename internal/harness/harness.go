// Package harness abstracts the AI coding agent CLIs the engine drives.
// Capabilities vary by implementation and are declared up front; the
// executor branches on declared capabilities, never on harness identity.
package harness

import (
	"context"
	"fmt"
)

// Capabilities is the fixed capability set a harness declares. When a
// capability is absent the engine degrades gracefully instead of failing
// (e.g. tokens are estimated from output length when TokenReporting is off).
type Capabilities struct {
	Streaming      bool // Can report output lines while running
	TokenReporting bool // Reports exact token usage per invocation
	SystemPrompt   bool // Accepts a separate system prompt
}

// Invocation is one bounded execution request.
type Invocation struct {
	Prompt       string
	SystemPrompt string            // Ignored by harnesses without SystemPrompt capability
	BudgetHint   int64             // Remaining token budget, advisory only
	OnOutput     func(line string) // Optional progress side-channel; only called by streaming harnesses
}

// Result is the terminal outcome of an invocation. An invocation always
// runs to a terminal result; cancellation is honored between invocations
// by the run loop, not mid-flight by the harness.
type Result struct {
	ExitStatus int
	TokensUsed int64 // Zero when the harness cannot report; see EstimateTokens
	Output     string
}

// Harness executes prompts against an agent CLI.
type Harness interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
	Capabilities() Capabilities
	SessionID() string
	Close() error
}

// Config selects and parameterizes a harness.
type Config struct {
	Type         string // "claude", "codex", or "goose"
	WorkDir      string
	SessionID    string
	Model        string
	Provider     string // Goose local LLM provider (e.g. "ollama")
	SystemPrompt string
}

// New creates a harness from config, switching on cfg.Type.
func New(cfg Config, pm *ProcessManager) (Harness, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeHarness(cfg, pm)
	case "codex":
		return NewCodexHarness(cfg, pm)
	case "goose":
		return NewGooseHarness(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown harness type: %s", cfg.Type)
	}
}

// EstimateTokens approximates token usage from output length for harnesses
// without token reporting. Four bytes per token is the usual rough ratio.
func EstimateTokens(output string) int64 {
	return int64(len(output)+3) / 4
}
