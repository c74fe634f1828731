package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

func newTestRecorder(t *testing.T) (*Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	r, err := New(provider.Meter("test"))
	require.NoError(t, err)
	return r, reader
}

// sum returns the total of a counter over points matching attr (or all
// points when attr is empty).
func sum(t *testing.T, reader *sdkmetric.ManualReader, name string, attr ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range data.DataPoints {
				match := true
				for _, kv := range attr {
					v, ok := dp.Attributes.Value(kv.Key)
					if !ok || v.Emit() != kv.Value.Emit() {
						match = false
					}
				}
				if match {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRecorder_Counters(t *testing.T) {
	r, reader := newTestRecorder(t)
	ctx := context.Background()

	r.CycleCompleted(ctx, 2*time.Second, nil)
	r.CycleCompleted(ctx, time.Second, errors.New("storage down"))
	r.TargetProcessed(ctx, types.OutcomeRetried)
	r.TargetProcessed(ctx, types.OutcomeHealthy)
	r.VerdictIssued(ctx, types.Verdict{Category: types.CategoryFlakyTest, Source: types.VerdictFromInference}, false)
	r.VerdictIssued(ctx, types.Verdict{Category: types.CategoryFlakyTest, Source: types.VerdictFromInference}, true)
	r.InferenceFailed(ctx, errors.New("timeout"))
	r.DecisionMade(ctx, types.Decision{Action: types.ActionSkip, Reason: types.ReasonCooldown})
	r.AttemptRecorded(ctx, types.RemediationAttempt{Outcome: types.AttemptPending})
	r.AttemptRecorded(ctx, types.RemediationAttempt{Outcome: types.AttemptFailed})
	r.ReportDelivered(ctx, nil)
	r.CommandApplied(ctx, types.CommandAddTarget)

	assert.Equal(t, int64(2), sum(t, reader, "runwarden.cycles"))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.cycles", attribute.String("result", "error")))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.targets", attribute.String("outcome", "retried")))
	assert.Equal(t, int64(2), sum(t, reader, "runwarden.verdicts", attribute.String("category", "flaky_test")))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.verdicts", attribute.Bool("cached", true)))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.inference.failures"))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.decisions", attribute.String("reason", "cooldown")))
	assert.Equal(t, int64(2), sum(t, reader, "runwarden.reruns"))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.rerun.failures"))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.reports", attribute.String("result", "ok")))
	assert.Equal(t, int64(1), sum(t, reader, "runwarden.commands", attribute.String("kind", string(types.CommandAddTarget))))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	assert.NotPanics(t, func() {
		r.CycleCompleted(ctx, time.Second, nil)
		r.TargetProcessed(ctx, types.OutcomeHealthy)
		r.VerdictIssued(ctx, types.Verdict{}, false)
		r.InferenceFailed(ctx, nil)
		r.DecisionMade(ctx, types.Decision{})
		r.AttemptRecorded(ctx, types.RemediationAttempt{})
		r.ReportDelivered(ctx, nil)
		r.CommandApplied(ctx, types.CommandUnknown)
	})
}

func TestGlobal(t *testing.T) {
	assert.NotNil(t, Global())
}
