package harness

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewSwitchesOnType(t *testing.T) {
	tests := []struct {
		typ     string
		wantErr bool
	}{
		{"claude", false},
		{"codex", false},
		{"goose", false},
		{"gpt-cli", true},
		{"", true},
	}

	for _, tt := range tests {
		h, err := New(Config{Type: tt.typ, WorkDir: t.TempDir()}, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
		}
		if err == nil && h == nil {
			t.Errorf("New(%q) returned nil harness", tt.typ)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		output string
		want   int64
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.output); got != tt.want {
			t.Errorf("EstimateTokens(%d bytes) = %d, want %d", len(tt.output), got, tt.want)
		}
	}
}

func TestCapabilitiesByHarness(t *testing.T) {
	claude, _ := NewClaudeHarness(Config{WorkDir: "/"}, nil)
	codex, _ := NewCodexHarness(Config{}, nil)
	goose, _ := NewGooseHarness(Config{}, nil)

	if c := claude.Capabilities(); !c.Streaming || !c.TokenReporting || !c.SystemPrompt {
		t.Errorf("claude capabilities = %+v", c)
	}
	if c := codex.Capabilities(); !c.Streaming || c.TokenReporting || c.SystemPrompt {
		t.Errorf("codex capabilities = %+v", c)
	}
	if c := goose.Capabilities(); c.Streaming || c.TokenReporting || !c.SystemPrompt {
		t.Errorf("goose capabilities = %+v", c)
	}
}

func TestClaudeBuildArgs(t *testing.T) {
	h, err := NewClaudeHarness(Config{
		SessionID:    "sess-1",
		WorkDir:      "/tmp",
		Model:        "opus",
		SystemPrompt: "be terse",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	args := h.buildArgs(Invocation{Prompt: "do it"}, false)
	want := []string{"-p", "do it", "--output-format", "json", "--session-id", "sess-1", "--model", "opus", "--system-prompt", "be terse"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("first call args = %v", args)
	}

	args = h.buildArgs(Invocation{Prompt: "again", SystemPrompt: "override"}, true)
	if args[4] != "--resume" || args[5] != "sess-1" {
		t.Errorf("resume args = %v", args)
	}
	if args[len(args)-1] != "override" {
		t.Errorf("invocation system prompt not preferred: %v", args)
	}
}

func TestCodexBuildArgs(t *testing.T) {
	h, _ := NewCodexHarness(Config{Model: "gpt-5"}, nil)

	args := h.buildArgs(Invocation{Prompt: "p"})
	want := []string{"exec", "p", "--json", "--model", "gpt-5"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("first call args = %v", args)
	}

	h.threadID = "th-9"
	h.started = true
	args = h.buildArgs(Invocation{Prompt: "p2"})
	if args[0] != "resume" || args[1] != "th-9" {
		t.Errorf("resume args = %v", args)
	}
}

func TestParseCodexEvents(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"thread.started","thread_id":"th-1"}`,
		`noise the CLI sometimes prints`,
		`{"type":"turn.completed","content":"part one"}`,
		``,
		`{"type":"turn.completed","content":"part two"}`,
	}, "\n")

	threadID, content, err := parseCodexEvents([]byte(stream))
	if err != nil {
		t.Fatalf("parseCodexEvents failed: %v", err)
	}
	if threadID != "th-1" {
		t.Errorf("threadID = %q", threadID)
	}
	if content != "part one\npart two" {
		t.Errorf("content = %q", content)
	}
}

func TestGooseBuildArgs(t *testing.T) {
	h, err := NewGooseHarness(Config{Provider: "ollama", Model: "qwen", SystemPrompt: "sys"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(h.SessionID(), "taskpilot-") {
		t.Errorf("generated session name = %q", h.SessionID())
	}

	args := h.buildArgs(Invocation{Prompt: "p"})
	joined := strings.Join(args, " ")
	for _, frag := range []string{"run --text p", "--name " + h.SessionID(), "--provider ollama", "--model qwen", "--system sys"} {
		if !strings.Contains(joined, frag) {
			t.Errorf("args missing %q: %v", frag, args)
		}
	}

	h.started = true
	args = h.buildArgs(Invocation{Prompt: "p"})
	if !strings.Contains(strings.Join(args, " "), "--resume") {
		t.Errorf("resume args = %v", args)
	}
}
