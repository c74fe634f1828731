package remediation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/runwarden/internal/provider/sqlite"
	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/internal/testutil"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

type fakeRerunner struct {
	mu      sync.Mutex
	calls   []string
	err     error
	outcome types.AttemptOutcome
}

func (f *fakeRerunner) Rerun(_ context.Context, _ types.Target, runID string) (types.AttemptOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runID)
	if f.err != nil {
		return "", f.err
	}
	if f.outcome != "" {
		return f.outcome, nil
	}
	return types.AttemptPending, nil
}

func (f *fakeRerunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (a *recordingAlerter) Dispatch(_ context.Context, alert types.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type fixture struct {
	reg      *registry.Registry
	rerunner *fakeRerunner
	alerter  *recordingAlerter
	coord    *Coordinator
	target   types.Target
	now      time.Time
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := registry.New(testutil.NewMockProvider(), types.RemediationPolicy{
		ConfidenceThreshold: 0.5,
		MaxAttempts:         maxAttempts,
		Cooldown:            "10m",
	}, registry.WithClock(clock))
	id, err := reg.UpsertTarget(ctx, types.Target{AccountID: "acc1", ProjectID: "octo/app", WorkflowID: "ci.yml"}, registry.UpsertOptions{})
	require.NoError(t, err)
	target, err := reg.GetTarget(ctx, id)
	require.NoError(t, err)

	f := &fixture{reg: reg, rerunner: &fakeRerunner{}, alerter: &recordingAlerter{}, target: target, now: now}
	f.coord = New(reg, f.rerunner, WithAlerter(f.alerter), WithClock(clock))
	return f
}

func (f *fixture) request(action types.Action, reason, runID string) Request {
	return Request{
		Target:      f.target,
		Decision:    types.Decision{Action: action, Reason: reason},
		Signature:   "sig-1",
		Observation: types.RunObservation{TargetID: f.target.ID, RunID: runID, Status: types.RunFailure},
		Verdict:     types.Verdict{RunID: runID, Category: types.CategoryFlakyTest, Confidence: 0.9},
	}
}

func TestFSM_Transitions(t *testing.T) {
	tests := []struct {
		from, to types.SignatureStatus
		ok       bool
	}{
		{types.SignatureFresh, types.SignatureRetried, true},
		{types.SignatureFresh, types.SignatureExhausted, true},
		{types.SignatureRetried, types.SignatureRetried, true},
		{types.SignatureRetried, types.SignatureResolved, true},
		{types.SignatureExhausted, types.SignatureResolved, true},
		{types.SignatureExhausted, types.SignatureRetried, false},
		{types.SignatureResolved, types.SignatureFresh, true},
		{types.SignatureResolved, types.SignatureRetried, false},
		{"bogus", types.SignatureFresh, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, types.ErrStateInvariant)
			}
		})
	}
}

func TestExecute_RetryRecordsPendingAttempt(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	res, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	require.NoError(t, err)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, 1, res.Attempt.AttemptNumber)
	assert.Equal(t, types.AttemptPending, res.Attempt.Outcome)
	assert.NotEmpty(t, res.Attempt.ID)
	assert.Equal(t, []string{"run-1"}, f.rerunner.calls)

	attempts, err := f.reg.AttemptsFor(ctx, "sig-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	state, err := f.reg.Signature(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, types.SignatureRetried, state.Status)
	assert.Equal(t, 1, state.Attempts)
	assert.Equal(t, types.CategoryFlakyTest, state.Category)
	assert.Equal(t, "run-1", state.LastRunID)
	require.NotNil(t, state.LastAttemptAt)
	assert.Equal(t, f.now, *state.LastAttemptAt)
}

func TestExecute_RerunAlreadySucceeded(t *testing.T) {
	f := newFixture(t, 3)
	f.rerunner.outcome = types.AttemptSucceeded

	res, err := f.coord.Execute(context.Background(), f.request(types.ActionRetry, "", "run-1"))
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSucceeded, res.Attempt.Outcome)
}

func TestExecute_RerunFailureConsumesBudget(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.rerunner.err = errors.New("403 forbidden")

	res, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 forbidden")
	require.NotNil(t, res.Attempt)
	assert.Equal(t, types.AttemptFailed, res.Attempt.Outcome)
	assert.Equal(t, "403 forbidden", res.Attempt.Error)

	// Failing the last slot exhausts the signature and alerts once.
	res, err = f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	require.Error(t, err)
	assert.Equal(t, types.AttemptExhausted, res.Attempt.Outcome)
	assert.Equal(t, 2, res.Attempt.AttemptNumber)

	state, err := f.reg.Signature(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, types.SignatureExhausted, state.Status)
	assert.Equal(t, 1, f.alerter.count())
	assert.Equal(t, 2, f.rerunner.count())
}

func TestExecute_RetryBeyondBoundBecomesSkip(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	require.NoError(t, err)

	// A stale retry decision must not exceed the bound.
	res, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-2"))
	require.NoError(t, err)
	assert.Nil(t, res.Attempt)
	assert.Equal(t, types.ActionSkip, res.Decision.Action)
	assert.Equal(t, types.ReasonExhausted, res.Decision.Reason)
	assert.Equal(t, 1, f.rerunner.count())

	attempts, err := f.reg.AttemptsFor(ctx, "sig-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestExecute_SkipExhaustedAlertsOnce(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	require.NoError(t, err)

	res, err := f.coord.Execute(ctx, f.request(types.ActionSkip, types.ReasonExhausted, "run-2"))
	require.NoError(t, err)
	assert.False(t, res.Repeat)

	res, err = f.coord.Execute(ctx, f.request(types.ActionSkip, types.ReasonExhausted, "run-3"))
	require.NoError(t, err)
	assert.True(t, res.Repeat)

	assert.Equal(t, 1, f.alerter.count())
	assert.Equal(t, types.AlertLevelWarning, f.alerter.alerts[0].Level)
	assert.Equal(t, 1, f.rerunner.count())
}

func TestExecute_SkipCooldownIsSilent(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	res, err := f.coord.Execute(ctx, f.request(types.ActionSkip, types.ReasonCooldown, "run-1"))
	require.NoError(t, err)
	assert.Nil(t, res.Attempt)
	assert.False(t, res.Repeat)
	assert.Zero(t, f.rerunner.count())
	assert.Zero(t, f.alerter.count())
}

func TestExecute_EscalateReportsOnce(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	req := f.request(types.ActionEscalate, string(types.CategoryCodeDefect), "run-1")
	req.Verdict.Category = types.CategoryCodeDefect

	res, err := f.coord.Execute(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Repeat)
	assert.Nil(t, res.Attempt)

	res, err = f.coord.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Repeat)

	state, err := f.reg.Signature(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, state.EscalatedAt)
	assert.Equal(t, types.CategoryCodeDefect, state.Category)
	assert.Zero(t, f.rerunner.count())

	attempts, err := f.reg.AttemptsFor(ctx, "sig-1")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestExecute_UnknownAction(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.coord.Execute(context.Background(), f.request("reboot", "", "run-1"))
	assert.ErrorIs(t, err, types.ErrStateInvariant)
}

func TestResolve_StartsNewGeneration(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	require.NoError(t, err)

	resolved, err := f.coord.Resolve(ctx, f.target, types.RunObservation{RunID: "run-2", Status: types.RunSuccess})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, types.SignatureResolved, resolved[0].Status)
	assert.Equal(t, 1, resolved[0].Generation)
	require.NotNil(t, resolved[0].ResolvedAt)

	// Nothing left to resolve.
	resolved, err = f.coord.Resolve(ctx, f.target, types.RunObservation{RunID: "run-3", Status: types.RunSuccess})
	require.NoError(t, err)
	assert.Empty(t, resolved)

	// A recurrence retries again with a fresh budget.
	res, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-4"))
	require.NoError(t, err)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, 1, res.Attempt.AttemptNumber)

	state, err := f.reg.Signature(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, types.SignatureRetried, state.Status)
	assert.Equal(t, 1, state.Generation)
	assert.Nil(t, state.ResolvedAt)
}

func TestResolve_ExhaustedSignature(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.rerunner.err = errors.New("boom")

	_, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	require.Error(t, err)

	resolved, err := f.coord.Resolve(ctx, f.target, types.RunObservation{RunID: "run-2", Status: types.RunSuccess})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, types.SignatureResolved, resolved[0].Status)
}

func TestExecute_ConcurrentRetriesRespectBound(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
		}()
	}
	wg.Wait()

	attempts, err := f.reg.AttemptsFor(ctx, "sig-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
	}
	assert.Equal(t, 3, f.rerunner.count())
}

// hangingRerunner reaches the platform and then waits for the caller to give
// up, like a request whose response is lost to the cycle deadline.
type hangingRerunner struct {
	calls atomic.Int32
}

func (h *hangingRerunner) Rerun(ctx context.Context, _ types.Target, _ string) (types.AttemptOutcome, error) {
	h.calls.Add(1)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestExecute_DeadlineDuringRerunStillConsumesBudget(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(&types.SQLiteConfig{Path: filepath.Join(t.TempDir(), "runwarden.db")})
	require.NoError(t, err)
	require.NoError(t, store.Start(ctx))
	t.Cleanup(func() { _ = store.Stop(ctx) })

	reg := registry.New(store, types.RemediationPolicy{ConfidenceThreshold: 0.5, MaxAttempts: 3, Cooldown: "10m"})
	id, err := reg.UpsertTarget(ctx, types.Target{AccountID: "acc1", ProjectID: "octo/app", WorkflowID: "ci.yml"}, registry.UpsertOptions{})
	require.NoError(t, err)
	target, err := reg.GetTarget(ctx, id)
	require.NoError(t, err)

	rerunner := &hangingRerunner{}
	coord := New(reg, rerunner)
	req := Request{
		Target:      target,
		Decision:    types.Decision{Action: types.ActionRetry},
		Signature:   "sig-1",
		Observation: types.RunObservation{TargetID: id, RunID: "run-1", Status: types.RunFailure},
		Verdict:     types.Verdict{RunID: "run-1", Category: types.CategoryTransientInfra, Confidence: 0.9},
	}

	for i := 0; i < 5; i++ {
		callCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		res, err := coord.Execute(callCtx, req)
		cancel()
		if i < 3 {
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			require.NotNil(t, res.Attempt, "call %d", i)
			assert.Equal(t, i+1, res.Attempt.AttemptNumber)
		} else {
			require.NoError(t, err)
			assert.Equal(t, types.ActionSkip, res.Decision.Action)
		}
	}

	attempts, err := reg.AttemptsFor(ctx, "sig-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
	assert.Equal(t, types.AttemptExhausted, attempts[2].Outcome)
	assert.Equal(t, int32(3), rerunner.calls.Load())
}

func TestExecute_CancelledBeforeRerunRecordsNothing(t *testing.T) {
	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.coord.Execute(ctx, f.request(types.ActionRetry, "", "run-1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res.Attempt)
	assert.Zero(t, f.rerunner.count())
	assert.Zero(t, f.reg.Provider().(*testutil.MockProvider).LedgerSize())
}

func TestResolve_AllWorkflowsTargetResolvesOnlyThatWorkflow(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(testutil.NewMockProvider(), types.RemediationPolicy{ConfidenceThreshold: 0.5, MaxAttempts: 3, Cooldown: "10m"})
	id, err := reg.UpsertTarget(ctx, types.Target{AccountID: "acc1", ProjectID: "octo/app", WorkflowID: types.AllWorkflows}, registry.UpsertOptions{})
	require.NoError(t, err)
	target, err := reg.GetTarget(ctx, id)
	require.NoError(t, err)
	coord := New(reg, &fakeRerunner{})

	retry := func(sig types.FailureSignature, workflow, runID string) {
		_, err := coord.Execute(ctx, Request{
			Target:      target,
			Decision:    types.Decision{Action: types.ActionRetry},
			Signature:   sig,
			Observation: types.RunObservation{TargetID: id, WorkflowID: workflow, RunID: runID, Status: types.RunFailure},
			Verdict:     types.Verdict{RunID: runID, Category: types.CategoryFlakyTest, Confidence: 0.9},
		})
		require.NoError(t, err)
	}
	retry("sig-ci", "ci.yml", "run-1")
	retry("sig-lint", "lint.yml", "run-2")

	resolved, err := coord.Resolve(ctx, target, types.RunObservation{WorkflowID: "lint.yml", RunID: "run-3", Status: types.RunSuccess})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, types.FailureSignature("sig-lint"), resolved[0].Signature)

	ci, err := reg.Signature(ctx, "sig-ci")
	require.NoError(t, err)
	assert.Equal(t, types.SignatureRetried, ci.Status)
	assert.Equal(t, "ci.yml", ci.WorkflowID)
	attempts, err := reg.AttemptsFor(ctx, "sig-ci")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}
