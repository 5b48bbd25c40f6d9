package harness

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// GooseHarness drives the Goose CLI, which supports local LLM providers
// (Ollama, LM Studio, llama.cpp) via --provider/--model. No streaming and
// no token reporting; tokens are estimated.
type GooseHarness struct {
	sessionName  string
	workDir      string
	model        string
	provider     string
	systemPrompt string
	started      bool
	procMgr      *ProcessManager
}

// gooseResult is the loosely documented JSON shape Goose prints; plain-text
// output is accepted as a fallback.
type gooseResult struct {
	Content string `json:"content"`
}

// NewGooseHarness creates a Goose harness. An empty cfg.SessionID generates
// a session name of the form "taskpilot-{hex}".
func NewGooseHarness(cfg Config, procMgr *ProcessManager) (*GooseHarness, error) {
	sessionName := cfg.SessionID
	if sessionName == "" {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generating session name: %w", err)
		}
		sessionName = "taskpilot-" + hex.EncodeToString(b)
	}

	return &GooseHarness{
		sessionName:  sessionName,
		workDir:      cfg.WorkDir,
		model:        cfg.Model,
		provider:     cfg.Provider,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Capabilities declares what this harness can do. Goose supports a system
// prompt but neither streaming nor token reporting.
func (h *GooseHarness) Capabilities() Capabilities {
	return Capabilities{SystemPrompt: true}
}

// Invoke runs one prompt to completion. First call names the session,
// later calls resume it.
func (h *GooseHarness) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	args := h.buildArgs(inv)

	cmd := newCommand(ctx, "goose", args...)
	cmd.Dir = h.workDir

	stdout, stderr, err := runCommand(ctx, cmd, h.procMgr, nil)
	if err != nil {
		return Result{ExitStatus: exitStatus(err), Output: string(stdout)},
			fmt.Errorf("goose command failed: %w", err)
	}

	h.started = true

	var gr gooseResult
	if jsonErr := json.Unmarshal(stdout, &gr); jsonErr == nil && gr.Content != "" {
		return Result{Output: gr.Content}, nil
	}

	// Plain-text fallback when --output-format json is unsupported.
	output := strings.TrimSpace(string(stdout))
	if len(stderr) > 0 {
		output += "\n[stderr]: " + strings.TrimSpace(string(stderr))
	}
	return Result{Output: output}, nil
}

func (h *GooseHarness) buildArgs(inv Invocation) []string {
	args := []string{"run", "--text", inv.Prompt, "--output-format", "json"}

	if !h.started {
		args = append(args, "--name", h.sessionName)
	} else {
		args = append(args, "--resume")
	}

	if h.provider != "" {
		args = append(args, "--provider", h.provider)
	}
	if h.model != "" {
		args = append(args, "--model", h.model)
	}

	systemPrompt := inv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = h.systemPrompt
	}
	if systemPrompt != "" {
		args = append(args, "--system", systemPrompt)
	}

	return args
}

// SessionID returns the session name.
func (h *GooseHarness) SessionID() string { return h.sessionName }

// Close is a no-op for the subprocess-per-invocation model.
func (h *GooseHarness) Close() error { return nil }
