package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ClaudeHarness drives the Claude Code CLI. It is the most capable adapter:
// exact token reporting, system-prompt support, and line streaming.
type ClaudeHarness struct {
	sessionID    string
	workDir      string
	model        string
	systemPrompt string
	started      bool
	procMgr      *ProcessManager
}

// claudeResult mirrors the JSON envelope the CLI prints with
// --output-format json.
type claudeResult struct {
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	Usage     struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeHarness creates a Claude Code harness. A fresh session ID is
// generated when the config leaves it empty.
func NewClaudeHarness(cfg Config, procMgr *ProcessManager) (*ClaudeHarness, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}

	return &ClaudeHarness{
		sessionID:    sessionID,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Capabilities declares what this harness can do.
func (h *ClaudeHarness) Capabilities() Capabilities {
	return Capabilities{Streaming: true, TokenReporting: true, SystemPrompt: true}
}

// Invoke runs one prompt to completion. The first call opens the session
// with --session-id; later calls resume it.
func (h *ClaudeHarness) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	args := h.buildArgs(inv, h.started)

	cmd := newCommand(ctx, "claude", args...)
	cmd.Dir = h.workDir

	stdout, stderr, err := runCommand(ctx, cmd, h.procMgr, inv.OnOutput)
	if err != nil {
		return Result{ExitStatus: exitStatus(err), Output: string(stdout)},
			fmt.Errorf("claude command failed: %w", err)
	}

	var cr claudeResult
	if err := json.Unmarshal(stdout, &cr); err != nil {
		return Result{Output: string(stdout)},
			fmt.Errorf("parsing claude response: %w (stderr: %s)", err, string(stderr))
	}

	if cr.SessionID != "" {
		h.sessionID = cr.SessionID
	}
	h.started = true

	res := Result{
		Output:     cr.Result,
		TokensUsed: cr.Usage.InputTokens + cr.Usage.OutputTokens,
	}
	if cr.IsError {
		res.ExitStatus = 1
		return res, fmt.Errorf("claude reported an error result")
	}
	return res, nil
}

func (h *ClaudeHarness) buildArgs(inv Invocation, isResume bool) []string {
	args := []string{"-p", inv.Prompt, "--output-format", "json"}

	if isResume {
		args = append(args, "--resume", h.sessionID)
	} else {
		args = append(args, "--session-id", h.sessionID)
	}

	if h.model != "" {
		args = append(args, "--model", h.model)
	}

	systemPrompt := inv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = h.systemPrompt
	}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}

	return args
}

// SessionID returns the current session identifier.
func (h *ClaudeHarness) SessionID() string { return h.sessionID }

// Close is a no-op for the subprocess-per-invocation model.
func (h *ClaudeHarness) Close() error { return nil }
