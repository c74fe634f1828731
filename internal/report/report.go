// Package report turns one cycle's per-target outcomes into a deterministic
// digest.
package report

import (
	"slices"
	"strings"
	"time"

	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Aggregate orders entries by (account, project, workflow) and counts
// outcomes. The input slice is not modified.
func Aggregate(entries []types.ReportEntry, generatedAt time.Time) types.CycleReport {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b types.ReportEntry) int {
		if c := registry.CompareTargets(a.Target, b.Target); c != 0 {
			return c
		}
		return strings.Compare(a.RunID, b.RunID)
	})

	r := types.CycleReport{GeneratedAt: generatedAt, Entries: sorted}
	r.Counts.Targets = len(sorted)
	for _, e := range sorted {
		switch e.Outcome {
		case types.OutcomeHealthy, types.OutcomeNoRuns, types.OutcomeInProgress, types.OutcomeCancelled:
			r.Counts.Healthy++
		case types.OutcomeRetried, types.OutcomeRetryFailed:
			r.Counts.Retried++
		case types.OutcomeSkippedExhausted, types.OutcomeSkippedCooldown:
			r.Counts.Skipped++
		case types.OutcomeEscalated:
			r.Counts.Escalated++
		case types.OutcomeResolved:
			r.Counts.Resolved++
		case types.OutcomeDeferred:
			r.Counts.Deferred++
		default:
			r.Counts.Errors++
		}
	}
	return r
}
