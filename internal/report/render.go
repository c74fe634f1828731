package report

import (
	"fmt"
	"strings"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Title heads every rendered digest.
const Title = "Daily Supervisor Report"

// Render formats a report as the plain-text digest sent to the operator
// channel.
func Render(r types.CycleReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s – %s\n", Title, r.GeneratedAt.UTC().Format("2006-01-02"))

	if len(r.Entries) == 0 {
		b.WriteString("\nNo targets registered.\n")
	} else {
		b.WriteString("\n")
	}
	for _, e := range r.Entries {
		writeEntry(&b, e)
	}

	b.WriteString("\n")
	b.WriteString(countsLine(r.Counts))
	b.WriteString("\n\n")
	if r.Healthy() {
		b.WriteString("System status: HEALTHY ✅")
	} else {
		b.WriteString("System status: ATTENTION REQUIRED ⚠️")
	}
	return b.String()
}

func writeEntry(b *strings.Builder, e types.ReportEntry) {
	name := displayName(e.Target)
	switch e.Outcome {
	case types.OutcomeHealthy:
		fmt.Fprintf(b, "🟢 %s ✔ OK\n", name)
	case types.OutcomeResolved:
		fmt.Fprintf(b, "🟢 %s ✔ Recovered\n", name)
	case types.OutcomeNoRuns:
		fmt.Fprintf(b, "⚪ %s ❓ No workflow runs found\n", name)
	case types.OutcomeInProgress:
		fmt.Fprintf(b, "🔵 %s ⏳ Run in progress\n", name)
	case types.OutcomeCancelled:
		fmt.Fprintf(b, "⚪ %s ⊘ Run cancelled\n", name)
	case types.OutcomeDeferred:
		fmt.Fprintf(b, "⏭ %s Deferred to next cycle\n", name)
	case types.OutcomeError:
		fmt.Fprintf(b, "🔴 %s ❌ Error: %s\n", name, e.Detail)
		return
	default:
		fmt.Fprintf(b, "🔴 %s ❌ %s\n", name, failureSummary(e))
		writeAction(b, e)
	}
	if e.Detail != "" && e.Outcome != types.OutcomeRetryFailed {
		fmt.Fprintf(b, "   %s\n", e.Detail)
	}
}

func writeAction(b *strings.Builder, e types.ReportEntry) {
	switch e.Outcome {
	case types.OutcomeRetried:
		fmt.Fprintf(b, "🛠 Auto-fix applied: re-run%s ✅\n", attemptSuffix(e))
	case types.OutcomeRetryFailed:
		fmt.Fprintf(b, "🛠 Auto-fix failed: re-run%s ❌\n", attemptSuffix(e))
		if e.Detail != "" {
			fmt.Fprintf(b, "   %s\n", e.Detail)
		}
	case types.OutcomeSkippedExhausted:
		fmt.Fprintf(b, "⚠️ Retry budget exhausted%s\n", repeatSuffix(e))
	case types.OutcomeSkippedCooldown:
		b.WriteString("⏸ Retry cooling down\n")
	case types.OutcomeEscalated:
		fmt.Fprintf(b, "⚠️ No safe auto-fix available%s\n", repeatSuffix(e))
		if e.Verdict != nil && e.Verdict.FixSummary != "" {
			fmt.Fprintf(b, "   Suggested fix: %s\n", e.Verdict.FixSummary)
		}
	}
}

func displayName(t types.Target) string {
	label := t.Label
	if label == "" {
		label = t.Key()
	}
	if t.Channel == "" {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, t.Channel)
}

func failureSummary(e types.ReportEntry) string {
	parts := []string{"Run failed"}
	if e.Verdict != nil {
		parts = append(parts, fmt.Sprintf("%s, confidence %.2f", strings.ReplaceAll(string(e.Verdict.Category), "_", " "), e.Verdict.Confidence))
	}
	s := strings.Join(parts, ": ")
	if e.RunURL != "" {
		s += " " + e.RunURL
	}
	return s
}

func attemptSuffix(e types.ReportEntry) string {
	if e.Attempt == nil {
		return ""
	}
	return fmt.Sprintf(" (attempt %d)", e.Attempt.AttemptNumber)
}

func repeatSuffix(e types.ReportEntry) string {
	if e.Repeat {
		return " (still failing)"
	}
	return ""
}

func countsLine(c types.ReportCounts) string {
	line := fmt.Sprintf("Targets: %d · Healthy: %d · Retried: %d · Skipped: %d · Escalated: %d · Resolved: %d",
		c.Targets, c.Healthy, c.Retried, c.Skipped, c.Escalated, c.Resolved)
	if c.Deferred > 0 {
		line += fmt.Sprintf(" · Deferred: %d", c.Deferred)
	}
	if c.Errors > 0 {
		line += fmt.Sprintf(" · Errors: %d", c.Errors)
	}
	return line
}
