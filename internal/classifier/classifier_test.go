package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/runwarden/internal/testutil"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

type fakeInferer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeInferer) Infer(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, prompt)
}

func replying(text string) *fakeInferer {
	return &fakeInferer{fn: func(context.Context, string) (string, error) { return text, nil }}
}

var (
	testTarget = types.Target{ID: "tgt_1", AccountID: "acc1", ProjectID: "octo/app", WorkflowID: "*"}
	testObs    = types.RunObservation{RunID: "42", Status: types.RunFailure, LogExcerpt: "dial tcp: i/o timeout"}
)

func TestClassify_ParsesReply(t *testing.T) {
	inf := replying(`{"category":"transient_infra","confidence":0.9,"summary":"re-run the job"}`)
	c := New(inf, nil)

	v, err := c.Classify(context.Background(), testTarget, testObs)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryTransientInfra, v.Category)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
	assert.Equal(t, "re-run the job", v.FixSummary)
	assert.True(t, v.RetryCandidate)
	assert.Equal(t, types.VerdictFromInference, v.Source)
	assert.Equal(t, "42", v.RunID)
}

func TestClassify_CachedByRunID(t *testing.T) {
	inf := replying(`{"category":"flaky_test","confidence":0.7,"summary":"retry"}`)
	prov := testutil.NewMockProvider()
	c := New(inf, prov)
	ctx := context.Background()

	first, err := c.Classify(ctx, testTarget, testObs)
	require.NoError(t, err)
	second, err := c.Classify(ctx, testTarget, testObs)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inf.calls.Load())
	assert.Contains(t, prov.Verdicts(), "42")
}

func TestClassify_PersistentCacheSurvivesRestart(t *testing.T) {
	prov := testutil.NewMockProvider()
	ctx := context.Background()

	first := replying(`{"category":"code_defect","confidence":0.95,"summary":"fix the import"}`)
	_, err := New(first, prov).Classify(ctx, testTarget, testObs)
	require.NoError(t, err)

	second := replying(`{"category":"flaky_test","confidence":0.1,"summary":"other"}`)
	v, err := New(second, prov).Classify(ctx, testTarget, testObs)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryCodeDefect, v.Category)
	assert.Zero(t, second.calls.Load())
}

func TestClassify_ConcurrentCallsShareOneInference(t *testing.T) {
	release := make(chan struct{})
	inf := &fakeInferer{fn: func(context.Context, string) (string, error) {
		<-release
		return `{"category":"flaky_test","confidence":0.8,"summary":"retry"}`, nil
	}}
	c := New(inf, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Classify(context.Background(), testTarget, testObs)
			assert.NoError(t, err)
			assert.Equal(t, types.CategoryFlakyTest, v.Category)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), inf.calls.Load())
}

func TestClassify_TimeoutFallsBackToUnknown(t *testing.T) {
	inf := &fakeInferer{fn: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	prov := testutil.NewMockProvider()
	c := New(inf, prov, WithTimeout(10*time.Millisecond))

	v, err := c.Classify(context.Background(), testTarget, testObs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrClassificationUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, types.CategoryUnknown, v.Category)
	assert.Zero(t, v.Confidence)
	assert.False(t, v.RetryCandidate)
	assert.Equal(t, types.VerdictFromFallback, v.Source)

	// Fallbacks are not cached: the next call asks again.
	assert.Empty(t, prov.Verdicts())
	_, _ = c.Classify(context.Background(), testTarget, testObs)
	assert.Equal(t, int32(2), inf.calls.Load())
}

func TestClassify_UnparseableReplyIsUnknown(t *testing.T) {
	inf := replying("I think this is probably a flaky test.")
	c := New(inf, nil)

	v, err := c.Classify(context.Background(), testTarget, testObs)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryUnknown, v.Category)
	assert.Zero(t, v.Confidence)
	assert.False(t, v.RetryCandidate)

	_, _ = c.Classify(context.Background(), testTarget, testObs)
	assert.Equal(t, int32(1), inf.calls.Load())
}

func TestEvict_ForcesReclassification(t *testing.T) {
	inf := replying(`{"category":"flaky_test","confidence":0.8,"summary":"retry"}`)
	prov := testutil.NewMockProvider()
	c := New(inf, prov)
	ctx := context.Background()

	_, err := c.Classify(ctx, testTarget, testObs)
	require.NoError(t, err)
	c.Evict(ctx, "42")
	assert.Empty(t, prov.Verdicts())

	_, err = c.Classify(ctx, testTarget, testObs)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inf.calls.Load())
}

type recordingObserver struct {
	mu       sync.Mutex
	issued   []bool
	failures int
}

func (o *recordingObserver) VerdictIssued(_ context.Context, _ types.Verdict, cached bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued = append(o.issued, cached)
}

func (o *recordingObserver) InferenceFailed(context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func TestClassify_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	c := New(replying(`{"category":"flaky_test","confidence":0.8,"summary":"retry"}`), nil, WithObserver(obs))
	ctx := context.Background()

	_, _ = c.Classify(ctx, testTarget, testObs)
	_, _ = c.Classify(ctx, testTarget, testObs)
	assert.Equal(t, []bool{false, true}, obs.issued)

	failing := New(&fakeInferer{fn: func(context.Context, string) (string, error) {
		return "", errors.New("503")
	}}, nil, WithObserver(obs))
	_, _ = failing.Classify(ctx, testTarget, types.RunObservation{RunID: "43"})
	assert.Equal(t, 1, obs.failures)
}

func TestClassify_CancelledCallerDoesNotFailOtherWaiters(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	inf := &fakeInferer{fn: func(ctx context.Context, _ string) (string, error) {
		close(started)
		select {
		case <-release:
			return `{"category":"flaky_test","confidence":0.8,"summary":"retry"}`, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	prov := testutil.NewMockProvider()
	c := New(inf, prov)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Classify(firstCtx, testTarget, testObs)
		firstErr <- err
	}()
	<-started

	second := make(chan types.Verdict, 1)
	go func() {
		v, err := c.Classify(context.Background(), testTarget, testObs)
		assert.NoError(t, err)
		second <- v
	}()

	cancel()
	err := <-firstErr
	require.ErrorIs(t, err, types.ErrClassificationUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	v := <-second
	assert.Equal(t, types.CategoryFlakyTest, v.Category)
	assert.Equal(t, types.VerdictFromInference, v.Source)
	assert.Equal(t, int32(1), inf.calls.Load())
	assert.Contains(t, prov.Verdicts(), "42")
}
