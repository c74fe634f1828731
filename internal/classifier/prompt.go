package classifier

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultMaxPromptBytes bounds the log excerpt embedded in a prompt.
const DefaultMaxPromptBytes = 12000

const promptHeader = `You are triaging a failed CI workflow run.
Classify the failure into exactly one category:
- transient_infra: network errors, rate limits, runner or registry outages; safe to re-run unchanged
- flaky_test: an intermittent test failure unrelated to the change
- code_defect: compile errors, deterministic test failures or bugs that need a code change
- config_drift: missing or expired credentials, permissions, secrets or environment changes
- unknown: the log does not show enough to decide
Reply with only one JSON object and nothing else:
{"category": "<category>", "confidence": <number between 0 and 1>, "summary": "<one sentence describing the fix>"}
`

// BuildPrompt renders the classification prompt. The output depends only on
// its arguments, and the excerpt is clipped to its last maxBytes bytes.
func BuildPrompt(target types.Target, obs types.RunObservation, maxBytes int) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Account: %s\n", target.AccountID)
	fmt.Fprintf(&b, "Project: %s\n", target.ProjectID)
	fmt.Fprintf(&b, "Workflow: %s\n", target.WorkflowID)
	fmt.Fprintf(&b, "Run: %s (attempt %d)\n", obs.RunID, max(obs.RunAttempt, 1))
	if obs.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", oneLine(obs.Title))
	}
	b.WriteString("Log excerpt:\n<<<\n")
	b.WriteString(Tail(obs.LogExcerpt, maxBytes))
	b.WriteString("\n>>>\n")
	return b.String()
}

// Tail returns at most the last maxBytes bytes of s, prefixed with a
// truncation marker when anything was dropped. The cut moves forward to the
// next line start, so the excerpt of a recurring failure does not depend on
// the byte length of earlier lines. A single oversized line is cut on a rune
// boundary instead.
func Tail(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	start := len(s) - maxBytes
	if s[start-1] != '\n' {
		if i := strings.IndexByte(s[start:], '\n'); i >= 0 && start+i+1 < len(s) {
			start += i + 1
		}
	}
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return TruncationMarker(start) + "\n" + s[start:]
}

// TruncationMarker is the explicit marker for dropped log bytes.
func TruncationMarker(dropped int) string {
	return fmt.Sprintf("[... truncated %d bytes ...]", dropped)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
