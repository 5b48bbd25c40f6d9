package ident

import (
	"fmt"
	"strings"
)

// Composite ID grammar:
//
//	spec  "7"
//	plan  "7A"      spec + one char from planSequence
//	epic  "7A1"     plan + one char from epicSequence
//	task  "7A1.3"   epic + "." + number
//	standalone task "T12"
//
// Each level draws from a fixed character sequence, so sibling ordering is
// stable and "next unused" is well defined.
const (
	planSequence = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	epicSequence = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Counter names used by the allocator.
const (
	CounterSpec = "spec"
	CounterTask = "task" // Standalone tasks outside any epic
)

// SpecID formats a spec identifier from its counter value.
func SpecID(n int) string {
	return fmt.Sprintf("%d", n)
}

// StandaloneTaskID formats a standalone task identifier from its counter value.
func StandaloneTaskID(n int) string {
	return fmt.Sprintf("T%d", n)
}

// TaskID formats a task identifier under an epic.
func TaskID(epicID string, n int) string {
	return fmt.Sprintf("%s.%d", epicID, n)
}

// PlanID builds a plan identifier under a spec. When char is zero,
// the next unused character from the plan sequence (relative to the given
// sibling plan IDs) is selected automatically.
func PlanID(specID string, char byte, siblings []string) (string, error) {
	return childID(specID, char, siblings, planSequence)
}

// EpicID builds an epic identifier under a plan. When char is zero,
// the next unused character from the epic sequence is selected.
func EpicID(planID string, char byte, siblings []string) (string, error) {
	return childID(planID, char, siblings, epicSequence)
}

func childID(parentID string, char byte, siblings []string, sequence string) (string, error) {
	if char != 0 {
		if !strings.ContainsRune(sequence, rune(char)) {
			return "", fmt.Errorf("character %q is not in the level sequence", char)
		}
		id := parentID + string(char)
		for _, sib := range siblings {
			if sib == id {
				return "", fmt.Errorf("id %q already exists", id)
			}
		}
		return id, nil
	}

	used := make(map[byte]bool, len(siblings))
	for _, sib := range siblings {
		if strings.HasPrefix(sib, parentID) && len(sib) == len(parentID)+1 {
			used[sib[len(parentID)]] = true
		}
	}

	for i := 0; i < len(sequence); i++ {
		if !used[sequence[i]] {
			return parentID + string(sequence[i]), nil
		}
	}
	return "", fmt.Errorf("all %d child slots under %q are used", len(sequence), parentID)
}

// Lineage splits a task ID into its originating spec, plan, and epic IDs.
// Standalone task IDs have no lineage.
func Lineage(taskID string) (spec, plan, epic string) {
	if strings.HasPrefix(taskID, "T") {
		return "", "", ""
	}

	base := taskID
	if i := strings.IndexByte(taskID, '.'); i >= 0 {
		base = taskID[:i]
	}

	// base is spec digits followed by plan char and epic char.
	digits := 0
	for digits < len(base) && base[digits] >= '0' && base[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return "", "", ""
	}

	spec = base[:digits]
	if len(base) > digits {
		plan = base[:digits+1]
	}
	if len(base) > digits+1 {
		epic = base[:digits+2]
	}
	return spec, plan, epic
}
