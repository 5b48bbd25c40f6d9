package harness

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodexHarness drives the Codex CLI. It cannot report token usage, so the
// engine estimates tokens from output length.
type CodexHarness struct {
	threadID string
	workDir  string
	model    string
	started  bool
	procMgr  *ProcessManager
}

// Codex emits a newline-delimited JSON event stream.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content,omitempty"`
}

// NewCodexHarness creates a Codex harness. A non-empty cfg.SessionID resumes
// an existing thread.
func NewCodexHarness(cfg Config, procMgr *ProcessManager) (*CodexHarness, error) {
	return &CodexHarness{
		threadID: cfg.SessionID,
		workDir:  cfg.WorkDir,
		model:    cfg.Model,
		started:  cfg.SessionID != "",
		procMgr:  procMgr,
	}, nil
}

// Capabilities declares what this harness can do. Codex streams events but
// reports no token usage and takes no separate system prompt.
func (h *CodexHarness) Capabilities() Capabilities {
	return Capabilities{Streaming: true}
}

// Invoke runs one prompt to completion.
func (h *CodexHarness) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	args := h.buildArgs(inv)

	cmd := newCommand(ctx, "codex", args...)
	cmd.Dir = h.workDir

	stdout, _, err := runCommand(ctx, cmd, h.procMgr, inv.OnOutput)
	if err != nil {
		return Result{ExitStatus: exitStatus(err), Output: string(stdout)},
			fmt.Errorf("codex command failed: %w", err)
	}

	threadID, content, err := parseCodexEvents(stdout)
	if err != nil {
		return Result{Output: string(stdout)}, fmt.Errorf("parsing codex events: %w", err)
	}

	if threadID != "" {
		h.threadID = threadID
	}
	h.started = true

	return Result{Output: content}, nil
}

// buildArgs: first message uses `exec`, later messages `resume` the thread.
func (h *CodexHarness) buildArgs(inv Invocation) []string {
	var args []string
	if !h.started && h.threadID == "" {
		args = []string{"exec", inv.Prompt, "--json"}
	} else {
		args = []string{"resume", h.threadID, inv.Prompt, "--json"}
	}
	if h.model != "" {
		args = append(args, "--model", h.model)
	}
	return args
}

// parseCodexEvents extracts the thread ID and completed-turn content from
// the event stream.
func parseCodexEvents(data []byte) (threadID, content string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var parts []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue // Non-JSON noise between events
		}
		switch ev.Type {
		case "thread.started":
			threadID = ev.ThreadID
		case "turn.completed":
			parts = append(parts, ev.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("scanning event stream: %w", err)
	}
	return threadID, strings.Join(parts, "\n"), nil
}

// SessionID returns the current thread identifier.
func (h *CodexHarness) SessionID() string { return h.threadID }

// Close is a no-op for the subprocess-per-invocation model.
func (h *CodexHarness) Close() error { return nil }
