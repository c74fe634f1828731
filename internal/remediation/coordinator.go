// Package remediation carries out Safety Gate decisions: it re-runs failed
// workflow runs, keeps the attempt ledger, and moves each failure signature
// through fresh -> retried(n) -> exhausted | resolved.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultRerunTimeout bounds one re-run call when none is configured.
const DefaultRerunTimeout = 30 * time.Second

// recordTimeout bounds the ledger writes that follow a re-run call. They run
// detached from the caller's context: once the platform has seen the request
// the attempt must be recorded even if the cycle deadline has passed.
const recordTimeout = 10 * time.Second

// Rerunner re-runs a workflow run on the hosting platform. It returns
// AttemptSucceeded when the run had already succeeded and the call was a
// no-op, AttemptPending otherwise.
type Rerunner interface {
	Rerun(ctx context.Context, target types.Target, runID string) (types.AttemptOutcome, error)
}

// Alerter receives operator alerts.
type Alerter interface {
	Dispatch(ctx context.Context, alert types.Alert)
}

// Observer is notified of every recorded attempt.
type Observer interface {
	AttemptRecorded(ctx context.Context, attempt types.RemediationAttempt)
}

// Request is one decision to carry out.
type Request struct {
	Target      types.Target
	Decision    types.Decision
	Signature   types.FailureSignature
	Observation types.RunObservation
	Verdict     types.Verdict
}

// Result describes what Execute did.
type Result struct {
	// Decision is the decision actually applied. It differs from the
	// requested one when the ledger filled up before the lock was taken.
	Decision types.Decision
	// Attempt is the recorded attempt, set only for retries.
	Attempt *types.RemediationAttempt
	// Repeat is set when an escalation or exhaustion was already reported
	// for this signature.
	Repeat bool
}

// Coordinator executes decisions against the registry and platform.
type Coordinator struct {
	registry *registry.Registry
	rerunner Rerunner
	alerter  Alerter
	observer Observer
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAlerter sets the alert dispatcher.
func WithAlerter(a Alerter) Option {
	return func(c *Coordinator) { c.alerter = a }
}

// WithObserver sets the attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithTimeout bounds each re-run call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator.
func New(reg *registry.Registry, rerunner Rerunner, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: reg,
		rerunner: rerunner,
		timeout:  DefaultRerunTimeout,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute carries out a decision under the signature's lock. Only retries
// write to the attempt ledger. A failed re-run call is recorded, consumes
// budget and is returned as the error; it is never retried here.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	unlock := c.registry.LockSignature(req.Signature)
	defer unlock()

	state, err := c.loadState(ctx, req)
	if err != nil {
		return Result{Decision: req.Decision}, err
	}

	switch req.Decision.Action {
	case types.ActionRetry:
		return c.retry(ctx, req, state)
	case types.ActionSkip:
		return c.skip(ctx, req, state)
	case types.ActionEscalate:
		return c.escalate(ctx, req, state)
	default:
		return Result{Decision: req.Decision}, fmt.Errorf("%w: unknown action %q", types.ErrStateInvariant, req.Decision.Action)
	}
}

// loadState returns the signature's state, reopening a resolved signature
// and creating a fresh one on first sight. Nothing is saved.
func (c *Coordinator) loadState(ctx context.Context, req Request) (types.SignatureState, error) {
	existing, err := c.registry.Signature(ctx, req.Signature)
	if err != nil {
		return types.SignatureState{}, err
	}
	now := c.now()
	if existing == nil {
		return types.SignatureState{
			Signature:   req.Signature,
			TargetID:    req.Target.ID,
			WorkflowID:  req.Target.WorkflowScope(req.Observation),
			Category:    req.Verdict.Category,
			Status:      types.SignatureFresh,
			LastRunID:   req.Observation.RunID,
			FirstSeenAt: now,
		}, nil
	}

	state := *existing
	if state.Status == types.SignatureResolved {
		if err := Transition(state.Status, types.SignatureFresh); err != nil {
			return types.SignatureState{}, err
		}
		state.Status = types.SignatureFresh
		state.Attempts = 0
		state.FirstSeenAt = now
		state.LastAttemptAt = nil
		state.EscalatedAt = nil
		state.ResolvedAt = nil
		c.logger.Info("signature recurred", "target", req.Target.ID, "signature", req.Signature, "generation", state.Generation)
	}
	state.LastRunID = req.Observation.RunID
	return state, nil
}

func (c *Coordinator) retry(ctx context.Context, req Request, state types.SignatureState) (Result, error) {
	attempts, err := c.registry.AttemptsFor(ctx, req.Signature)
	if err != nil {
		return Result{Decision: req.Decision}, err
	}
	bound := c.registry.PolicyFor(req.Target).MaxAttempts
	if len(attempts) >= bound {
		c.logger.Warn("ledger filled before retry, skipping", "target", req.Target.ID, "signature", req.Signature)
		req.Decision = types.Decision{Action: types.ActionSkip, Reason: types.ReasonExhausted}
		return c.skip(ctx, req, state)
	}

	if err := ctx.Err(); err != nil {
		return Result{Decision: req.Decision}, err
	}

	number := len(attempts) + 1
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	outcome, rerunErr := c.rerunner.Rerun(callCtx, req.Target, req.Observation.RunID)
	cancel()

	ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	attempt := types.RemediationAttempt{
		ID:            ulid.Make().String(),
		Signature:     req.Signature,
		TargetID:      req.Target.ID,
		RunID:         req.Observation.RunID,
		AttemptNumber: number,
		Action:        types.ActionRetry,
		Outcome:       outcome,
		CreatedAt:     c.now(),
	}
	next := types.SignatureRetried
	if rerunErr != nil {
		attempt.Outcome = types.AttemptFailed
		attempt.Error = rerunErr.Error()
		if number == bound {
			attempt.Outcome = types.AttemptExhausted
			next = types.SignatureExhausted
		}
	} else if attempt.Outcome == "" {
		attempt.Outcome = types.AttemptPending
	}

	if err := c.registry.RecordAttempt(ctx, req.Signature, attempt); err != nil {
		return Result{Decision: req.Decision}, err
	}
	if c.observer != nil {
		c.observer.AttemptRecorded(ctx, attempt)
	}

	if err := Transition(state.Status, next); err != nil {
		return Result{Decision: req.Decision, Attempt: &attempt}, err
	}
	state.Status = next
	state.Attempts = number
	state.LastAttemptAt = &attempt.CreatedAt
	if err := c.registry.SaveSignature(ctx, state); err != nil {
		return Result{Decision: req.Decision, Attempt: &attempt}, err
	}

	c.logger.Info("remediation attempt recorded",
		"target", req.Target.ID,
		"run", req.Observation.RunID,
		"signature", req.Signature,
		"attempt", number,
		"outcome", attempt.Outcome,
	)
	if next == types.SignatureExhausted {
		c.alertExhausted(ctx, req, state)
	}
	if rerunErr != nil {
		return Result{Decision: req.Decision, Attempt: &attempt}, fmt.Errorf("re-running run %s: %w", req.Observation.RunID, rerunErr)
	}
	return Result{Decision: req.Decision, Attempt: &attempt}, nil
}

func (c *Coordinator) skip(ctx context.Context, req Request, state types.SignatureState) (Result, error) {
	res := Result{Decision: req.Decision}
	if req.Decision.Reason != types.ReasonExhausted {
		return res, nil
	}
	if state.Status == types.SignatureExhausted {
		res.Repeat = true
		return res, nil
	}
	if err := Transition(state.Status, types.SignatureExhausted); err != nil {
		return res, err
	}
	state.Status = types.SignatureExhausted
	if err := c.registry.SaveSignature(ctx, state); err != nil {
		return res, err
	}
	c.alertExhausted(ctx, req, state)
	return res, nil
}

func (c *Coordinator) escalate(ctx context.Context, req Request, state types.SignatureState) (Result, error) {
	res := Result{Decision: req.Decision}
	if state.EscalatedAt != nil {
		res.Repeat = true
		return res, nil
	}
	now := c.now()
	state.EscalatedAt = &now
	if state.Category == "" {
		state.Category = req.Verdict.Category
	}
	if err := c.registry.SaveSignature(ctx, state); err != nil {
		return res, err
	}
	c.logger.Info("failure escalated", "target", req.Target.ID, "run", req.Observation.RunID, "signature", req.Signature, "reason", req.Decision.Reason)
	return res, nil
}

func (c *Coordinator) alertExhausted(ctx context.Context, req Request, state types.SignatureState) {
	c.logger.Warn("retry budget exhausted", "target", req.Target.ID, "signature", req.Signature, "attempts", state.Attempts)
	if c.alerter == nil {
		return
	}
	c.alerter.Dispatch(ctx, types.Alert{
		Level:    types.AlertLevelWarning,
		TargetID: req.Target.ID,
		Message:  fmt.Sprintf("retry budget exhausted for %s (run %s)", req.Target.Label, req.Observation.RunID),
		Details: map[string]interface{}{
			"signature": string(req.Signature),
			"attempts":  state.Attempts,
			"category":  string(state.Category),
			"url":       req.Observation.URL,
		},
		Timestamp: c.now(),
	})
}

// Resolve retires the open signatures a successful run clears: all of the
// target's, or only those of the run's workflow when the target watches
// every workflow. Each resolved signature moves to a new generation so a
// recurrence starts with an empty ledger. It returns the resolved states.
func (c *Coordinator) Resolve(ctx context.Context, target types.Target, run types.RunObservation) ([]types.SignatureState, error) {
	open, err := c.registry.OpenSignatures(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	scope := target.WorkflowScope(run)
	runID := run.RunID
	var resolved []types.SignatureState
	for _, s := range open {
		if scope != "" && s.WorkflowID != scope {
			continue
		}
		state, err := c.resolveOne(ctx, s.Signature)
		if err != nil {
			return resolved, err
		}
		if state != nil {
			c.logger.Info("signature resolved", "target", target.ID, "run", runID, "signature", state.Signature, "attempts", state.Attempts)
			resolved = append(resolved, *state)
		}
	}
	return resolved, nil
}

func (c *Coordinator) resolveOne(ctx context.Context, sig types.FailureSignature) (*types.SignatureState, error) {
	unlock := c.registry.LockSignature(sig)
	defer unlock()

	state, err := c.registry.Signature(ctx, sig)
	if err != nil || state == nil || !state.Open() {
		return nil, err
	}
	if err := Transition(state.Status, types.SignatureResolved); err != nil {
		return nil, err
	}
	now := c.now()
	state.Status = types.SignatureResolved
	state.ResolvedAt = &now
	state.Generation++
	if err := c.registry.SaveSignature(ctx, *state); err != nil {
		return nil, err
	}
	return state, nil
}
