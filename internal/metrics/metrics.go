// Package metrics records runwarden counters through OpenTelemetry.
package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// ScopeName is the instrumentation scope of every instrument.
const ScopeName = "github.com/dwsmith1983/runwarden"

// Recorder holds the instruments. A nil *Recorder records nothing.
type Recorder struct {
	cycles            metric.Int64Counter
	cycleDuration     metric.Float64Histogram
	targets           metric.Int64Counter
	verdicts          metric.Int64Counter
	inferenceFailures metric.Int64Counter
	decisions         metric.Int64Counter
	reruns            metric.Int64Counter
	rerunFailures     metric.Int64Counter
	reports           metric.Int64Counter
	commands          metric.Int64Counter
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	var (
		r    Recorder
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	r.cycles = counter("runwarden.cycles", "Monitoring cycles run, by result")
	r.targets = counter("runwarden.targets", "Targets processed, by outcome")
	r.verdicts = counter("runwarden.verdicts", "Verdicts issued, by category and source")
	r.inferenceFailures = counter("runwarden.inference.failures", "Inference calls that failed or timed out")
	r.decisions = counter("runwarden.decisions", "Safety gate decisions, by action and reason")
	r.reruns = counter("runwarden.reruns", "Re-run attempts recorded, by outcome")
	r.rerunFailures = counter("runwarden.rerun.failures", "Re-run calls the platform rejected")
	r.reports = counter("runwarden.reports", "Cycle digests delivered, by result")
	r.commands = counter("runwarden.commands", "Operator commands applied, by kind")

	var err error
	r.cycleDuration, err = meter.Float64Histogram("runwarden.cycle.duration",
		metric.WithDescription("Duration of monitoring cycles"),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &r, nil
}

// Global creates a Recorder on the global meter provider. It returns nil
// when the instruments cannot be created.
func Global() *Recorder {
	r, err := New(otel.Meter(ScopeName))
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return r
}

func result(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("result", "error")
	}
	return attribute.String("result", "ok")
}

// CycleCompleted records one cycle.
func (r *Recorder) CycleCompleted(ctx context.Context, d time.Duration, err error) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(result(err))
	r.cycles.Add(ctx, 1, attrs)
	r.cycleDuration.Record(ctx, d.Seconds(), attrs)
}

// TargetProcessed records a target's cycle outcome.
func (r *Recorder) TargetProcessed(ctx context.Context, outcome types.Outcome) {
	if r == nil {
		return
	}
	r.targets.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// VerdictIssued implements classifier.Observer.
func (r *Recorder) VerdictIssued(ctx context.Context, v types.Verdict, cached bool) {
	if r == nil {
		return
	}
	r.verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", string(v.Category)),
		attribute.String("source", string(v.Source)),
		attribute.Bool("cached", cached),
	))
}

// InferenceFailed implements classifier.Observer.
func (r *Recorder) InferenceFailed(ctx context.Context, _ error) {
	if r == nil {
		return
	}
	r.inferenceFailures.Add(ctx, 1)
}

// DecisionMade records a gate decision.
func (r *Recorder) DecisionMade(ctx context.Context, d types.Decision) {
	if r == nil {
		return
	}
	r.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(d.Action)),
		attribute.String("reason", d.Reason),
	))
}

// AttemptRecorded implements remediation.Observer.
func (r *Recorder) AttemptRecorded(ctx context.Context, a types.RemediationAttempt) {
	if r == nil {
		return
	}
	r.reruns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(a.Outcome))))
	if a.Outcome == types.AttemptFailed || a.Outcome == types.AttemptExhausted {
		r.rerunFailures.Add(ctx, 1)
	}
}

// ReportDelivered records a digest delivery.
func (r *Recorder) ReportDelivered(ctx context.Context, err error) {
	if r == nil {
		return
	}
	r.reports.Add(ctx, 1, metric.WithAttributes(result(err)))
}

// CommandApplied implements command.Observer.
func (r *Recorder) CommandApplied(ctx context.Context, kind types.CommandKind) {
	if r == nil {
		return
	}
	r.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
