package executor

import (
	"fmt"
	"strings"

	"github.com/aristath/taskpilot/internal/task"
)

// buildPrompt renders the prompt for an attempt. Retries carry augmented
// context describing the prior failure so the agent does not repeat it.
func buildPrompt(t *task.Task, attempt int, priorFailure string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Title)
	if len(t.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(t.Labels, ", "))
	}
	b.WriteString("\nComplete this task. Close it through the task backend when done.\n")

	if attempt > 1 && priorFailure != "" {
		fmt.Fprintf(&b, "\nThis is attempt %d. The previous attempt did not complete the task:\n%s\n", attempt, priorFailure)
		b.WriteString("Address the failure above before continuing.\n")
	}

	return b.String()
}

// failureSummary condenses an attempt's failure for the next prompt,
// keeping only the tail of long output.
func failureSummary(outcome string, err error, output string) string {
	const tailLimit = 2000

	var b strings.Builder
	fmt.Fprintf(&b, "Outcome: %s\n", outcome)
	if err != nil {
		fmt.Fprintf(&b, "Error: %v\n", err)
	}
	if output != "" {
		tail := output
		if len(tail) > tailLimit {
			tail = "..." + tail[len(tail)-tailLimit:]
		}
		fmt.Fprintf(&b, "Output tail:\n%s\n", tail)
	}
	return b.String()
}
