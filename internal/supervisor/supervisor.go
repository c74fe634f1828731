// Package supervisor runs monitoring cycles: it polls every enabled target,
// triages failed runs, applies the gated remediation and delivers the
// digest.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/runwarden/internal/config"
	"github.com/dwsmith1983/runwarden/internal/gate"
	"github.com/dwsmith1983/runwarden/internal/metrics"
	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/internal/remediation"
	"github.com/dwsmith1983/runwarden/internal/report"
	"github.com/dwsmith1983/runwarden/internal/telemetry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// LockKey is the distributed lock held for the duration of a cycle.
const LockKey = "cycle"

// Platform lists runs and fetches their logs.
type Platform interface {
	ListRuns(ctx context.Context, target types.Target, limit int) ([]types.RunObservation, error)
	LogExcerpt(ctx context.Context, target types.Target, runID string, maxBytes int) (string, bool, error)
}

// Classifier classifies a failed run.
type Classifier interface {
	Classify(ctx context.Context, target types.Target, obs types.RunObservation) (types.Verdict, error)
}

// Messenger delivers the digest.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// Alerter fans out operator alerts and cycle reports.
type Alerter interface {
	Dispatch(ctx context.Context, alert types.Alert)
	PublishReport(ctx context.Context, report types.CycleReport)
}

// Inbox applies pending operator commands.
type Inbox interface {
	Poll(ctx context.Context) (int, error)
}

// Deps are the collaborators of a Supervisor. Messenger, Alerter, Inbox and
// Metrics are optional.
type Deps struct {
	Registry    *registry.Registry
	Platform    Platform
	Classifier  Classifier
	Gate        *gate.Gate
	Coordinator *remediation.Coordinator
	Messenger   Messenger
	Alerter     Alerter
	Inbox       Inbox
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Supervisor runs cycles. Cycles never overlap within a process, and the
// registry lock keeps them from overlapping across processes.
type Supervisor struct {
	deps     Deps
	settings config.CycleSettings
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer

	running atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor.
func New(deps Deps, settings config.CycleSettings) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		deps:     deps,
		settings: settings,
		logger:   logger,
		now:      now,
		tracer:   telemetry.Tracer(),
	}
}

// RunCycle runs one monitoring cycle and returns its report. It fails as a
// whole only when storage is unavailable or another cycle holds the lock;
// per-target failures become report entries.
func (s *Supervisor) RunCycle(ctx context.Context) (*types.CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, types.ErrCycleInProgress
	}
	defer s.running.Store(false)

	start := s.now()
	ctx, span := s.tracer.Start(ctx, "runwarden.cycle")
	defer span.End()

	rep, err := s.runCycle(ctx)
	s.deps.Metrics.CycleCompleted(ctx, s.now().Sub(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("runwarden.targets", rep.Counts.Targets),
		attribute.Bool("runwarden.healthy", rep.Healthy()),
	)
	return rep, nil
}

func (s *Supervisor) runCycle(ctx context.Context) (*types.CycleReport, error) {
	if err := s.deps.Registry.Ping(ctx); err != nil {
		return nil, s.storageDown(ctx, err)
	}

	prov := s.deps.Registry.Provider()
	acquired, err := prov.AcquireLock(ctx, LockKey, s.settings.Deadline+time.Minute)
	if err != nil {
		return nil, s.storageDown(ctx, fmt.Errorf("%w: acquiring cycle lock: %w", types.ErrStorageUnavailable, err))
	}
	if !acquired {
		s.logger.Info("another instance is running a cycle")
		return nil, types.ErrCycleInProgress
	}
	defer func() {
		if err := prov.ReleaseLock(context.WithoutCancel(ctx), LockKey); err != nil {
			s.logger.Warn("failed to release cycle lock", "error", err)
		}
	}()

	targets, err := s.deps.Registry.ListEnabledTargets(ctx)
	if err != nil {
		return nil, s.storageDown(ctx, fmt.Errorf("%w: %w", types.ErrStorageUnavailable, err))
	}
	s.logger.Info("cycle started", "targets", len(targets))

	entries := s.processAll(ctx, targets)
	rep := report.Aggregate(entries, s.now())
	s.deliver(ctx, rep)

	s.logger.Info("cycle finished",
		"targets", rep.Counts.Targets,
		"retried", rep.Counts.Retried,
		"escalated", rep.Counts.Escalated,
		"deferred", rep.Counts.Deferred,
		"errors", rep.Counts.Errors,
	)
	return &rep, nil
}

// processAll runs one unit per target on a bounded pool. Targets not
// started before the deadline are deferred.
func (s *Supervisor) processAll(ctx context.Context, targets []types.Target) []types.ReportEntry {
	cycleCtx, cancel := context.WithTimeout(ctx, s.settings.Deadline)
	defer cancel()

	results := make([][]types.ReportEntry, len(targets))
	var g errgroup.Group
	g.SetLimit(max(1, s.settings.Workers))
	for i, t := range targets {
		if cycleCtx.Err() != nil {
			results[i] = deferredEntries(t)
			continue
		}
		g.Go(func() error {
			if cycleCtx.Err() != nil {
				results[i] = deferredEntries(t)
			} else {
				results[i] = s.processTarget(cycleCtx, t)
			}
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]types.ReportEntry, 0, len(targets))
	for _, r := range results {
		entries = append(entries, r...)
	}
	for _, e := range entries {
		s.deps.Metrics.TargetProcessed(ctx, e.Outcome)
	}
	return entries
}

// deliver sends the digest and publishes the report. Failures are logged
// and alerted, never returned.
func (s *Supervisor) deliver(ctx context.Context, rep types.CycleReport) {
	if s.deps.Messenger != nil {
		sendCtx, cancel := context.WithTimeout(ctx, s.settings.PlatformTimeout)
		err := s.deps.Messenger.Send(sendCtx, report.Render(rep))
		cancel()
		s.deps.Metrics.ReportDelivered(ctx, err)
		if err != nil {
			s.logger.Error("failed to deliver cycle digest", "error", err)
			s.alert(ctx, types.Alert{
				Level:   types.AlertLevelWarning,
				Message: "cycle digest could not be delivered",
				Details: map[string]interface{}{"error": err.Error()},
			})
		}
	}
	if s.deps.Alerter != nil {
		s.deps.Alerter.PublishReport(ctx, rep)
	}
}

func (s *Supervisor) storageDown(ctx context.Context, err error) error {
	s.logger.Error("storage unavailable, cycle aborted", "error", err)
	s.alert(ctx, types.Alert{
		Level:   types.AlertLevelError,
		Message: "storage unavailable, monitoring cycle aborted",
		Details: map[string]interface{}{"error": err.Error()},
	})
	return err
}

func (s *Supervisor) alert(ctx context.Context, a types.Alert) {
	if s.deps.Alerter == nil {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now()
	}
	s.deps.Alerter.Dispatch(ctx, a)
}

func deferredEntries(t types.Target) []types.ReportEntry {
	return []types.ReportEntry{{Target: t, Outcome: types.OutcomeDeferred}}
}
