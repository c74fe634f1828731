package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/runwarden/internal/classifier"
	"github.com/dwsmith1983/runwarden/internal/remediation"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// processTarget runs the unit of work for one target. A target watching
// every workflow yields one entry per workflow seen in its recent runs.
// Errors and panics are folded into the returned entries.
func (s *Supervisor) processTarget(ctx context.Context, t types.Target) (entries []types.ReportEntry) {
	ctx, span := s.tracer.Start(ctx, "runwarden.target")
	span.SetAttributes(attribute.String("runwarden.target", t.ID))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("target unit panicked", "target", t.ID, "panic", r, "stack", string(debug.Stack()))
			entries = []types.ReportEntry{{Target: t, Outcome: types.OutcomeError, Detail: fmt.Sprintf("internal error: %v", r)}}
		}
		span.SetAttributes(attribute.Int("runwarden.entries", len(entries)))
	}()

	listCtx, cancel := context.WithTimeout(ctx, s.settings.PlatformTimeout)
	runs, err := s.deps.Platform.ListRuns(listCtx, t, s.settings.PageSize)
	cancel()
	if err != nil {
		err = fmt.Errorf("listing runs: %w", err)
		return []types.ReportEntry{s.settle(ctx, span, t, types.ReportEntry{Target: t}, err)}
	}
	if len(runs) == 0 {
		return []types.ReportEntry{{Target: t, Outcome: types.OutcomeNoRuns}}
	}

	for _, run := range latestPerWorkflow(t, runs) {
		et := t
		if wf := t.WorkflowScope(run); wf != "" {
			et.WorkflowID = wf
			if et.Label != "" {
				et.Label = fmt.Sprintf("%s [%s]", et.Label, wf)
			}
		}
		entry, err := s.evaluate(ctx, t, run)
		entry.Target = et
		entries = append(entries, s.settle(ctx, span, et, entry, err))
	}
	return entries
}

// latestPerWorkflow picks the runs to evaluate: the newest run, or for a
// target watching every workflow the newest run of each workflow. runs are
// newest first.
func latestPerWorkflow(t types.Target, runs []types.RunObservation) []types.RunObservation {
	if t.WorkflowID != types.AllWorkflows {
		return runs[:1]
	}
	seen := make(map[string]bool)
	var out []types.RunObservation
	for _, run := range runs {
		if seen[run.WorkflowID] {
			continue
		}
		seen[run.WorkflowID] = true
		out = append(out, run)
	}
	return out
}

// settle turns an evaluation error into a deferred or error entry.
func (s *Supervisor) settle(ctx context.Context, span trace.Span, t types.Target, entry types.ReportEntry, err error) types.ReportEntry {
	if err == nil {
		return entry
	}
	span.RecordError(err)
	if ctx.Err() != nil {
		s.logger.Warn("cycle deadline reached during target", "target", t.ID, "error", err)
		return types.ReportEntry{Target: t, Outcome: types.OutcomeDeferred, RunID: entry.RunID, RunURL: entry.RunURL}
	}
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("target evaluation failed", "target", t.ID, "workflow", t.WorkflowID, "error", err)
	entry.Target = t
	entry.Outcome = types.OutcomeError
	entry.Detail = err.Error()
	return entry
}

func (s *Supervisor) evaluate(ctx context.Context, t types.Target, run types.RunObservation) (types.ReportEntry, error) {
	entry := types.ReportEntry{Target: t}
	run.TargetID = t.ID
	entry.RunID = run.RunID
	entry.RunURL = run.URL
	entry.Title = run.Title

	latest, err := s.deps.Registry.LatestWorkflowObservation(ctx, t.ID, t.WorkflowScope(run))
	if err != nil {
		return entry, err
	}
	seen := latest != nil && latest.SameRun(run)

	switch run.Status {
	case types.RunInProgress:
		entry.Outcome = types.OutcomeInProgress
		return entry, s.observe(ctx, t, run, seen)
	case types.RunCancelled:
		entry.Outcome = types.OutcomeCancelled
		return entry, s.observe(ctx, t, run, seen)
	case types.RunSuccess:
		if err := s.observe(ctx, t, run, seen); err != nil {
			return entry, err
		}
		resolved, err := s.deps.Coordinator.Resolve(ctx, t, run)
		if err != nil {
			return entry, fmt.Errorf("resolving signatures: %w", err)
		}
		entry.Outcome = types.OutcomeHealthy
		if len(resolved) > 0 {
			entry.Outcome = types.OutcomeResolved
		}
		return entry, nil
	case types.RunFailure:
		if seen {
			// Already processed: keep the stored excerpt so the signature
			// stays stable.
			run = *latest
		} else if err := s.fetchExcerpt(ctx, t, &run); err != nil {
			return entry, err
		}
		if err := s.observe(ctx, t, run, seen); err != nil {
			return entry, err
		}
		return s.triage(ctx, t, run, entry)
	default:
		return entry, fmt.Errorf("%w: run %s has unknown status %q", types.ErrStateInvariant, run.RunID, run.Status)
	}
}

func (s *Supervisor) observe(ctx context.Context, t types.Target, run types.RunObservation, seen bool) error {
	if seen {
		return nil
	}
	if _, err := s.deps.Registry.RecordObservation(ctx, t.ID, run); err != nil {
		return err
	}
	return nil
}

func (s *Supervisor) fetchExcerpt(ctx context.Context, t types.Target, run *types.RunObservation) error {
	logCtx, cancel := context.WithTimeout(ctx, s.settings.PlatformTimeout)
	defer cancel()
	excerpt, truncated, err := s.deps.Platform.LogExcerpt(logCtx, t, run.RunID, s.settings.LogExcerptBytes)
	if err != nil {
		return fmt.Errorf("fetching logs of run %s: %w", run.RunID, err)
	}
	run.LogExcerpt = excerpt
	run.Truncated = truncated
	return nil
}

// triage classifies a failed run, asks the gate and carries out the decision.
func (s *Supervisor) triage(ctx context.Context, t types.Target, run types.RunObservation, entry types.ReportEntry) (types.ReportEntry, error) {
	verdict, err := s.deps.Classifier.Classify(ctx, t, run)
	if err != nil {
		if !errors.Is(err, types.ErrClassificationUnavailable) {
			return entry, fmt.Errorf("classifying run %s: %w", run.RunID, err)
		}
		entry.Detail = "classifier unavailable, treated as unknown"
	}
	entry.Verdict = &verdict

	scope := t.ID
	if wf := t.WorkflowScope(run); wf != "" {
		scope += "/" + wf
	}
	sig := classifier.Signature(scope, verdict.Category, run.LogExcerpt)
	attempts, err := s.deps.Registry.AttemptsFor(ctx, sig)
	if err != nil {
		return entry, err
	}

	decision := s.deps.Gate.Decide(t, verdict, attempts, s.now())
	s.deps.Metrics.DecisionMade(ctx, decision)
	s.logger.Info("decision made",
		"target", t.ID,
		"run", run.RunID,
		"signature", sig,
		"category", verdict.Category,
		"confidence", verdict.Confidence,
		"decision", decision.String(),
	)

	res, err := s.deps.Coordinator.Execute(ctx, remediation.Request{
		Target:      t,
		Decision:    decision,
		Signature:   sig,
		Observation: run,
		Verdict:     verdict,
	})
	entry.Decision = &res.Decision
	entry.Attempt = res.Attempt
	entry.Repeat = res.Repeat
	entry.Outcome = outcomeFor(res)

	if err != nil {
		if res.Attempt == nil {
			return entry, err
		}
		// The failed re-run is recorded; report it rather than fail the target.
		entry.Outcome = types.OutcomeRetryFailed
		entry.Detail = res.Attempt.Error
	}
	return entry, nil
}

func outcomeFor(res remediation.Result) types.Outcome {
	switch res.Decision.Action {
	case types.ActionRetry:
		if res.Attempt != nil && (res.Attempt.Outcome == types.AttemptFailed || res.Attempt.Outcome == types.AttemptExhausted) {
			return types.OutcomeRetryFailed
		}
		return types.OutcomeRetried
	case types.ActionSkip:
		if res.Decision.Reason == types.ReasonCooldown {
			return types.OutcomeSkippedCooldown
		}
		return types.OutcomeSkippedExhausted
	default:
		return types.OutcomeEscalated
	}
}
