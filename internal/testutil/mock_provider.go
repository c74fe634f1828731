// Package testutil provides shared test utilities for runwarden.
package testutil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwsmith1983/runwarden/internal/provider"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*MockProvider)(nil)

// MockProvider is an in-memory Provider implementation for testing.
type MockProvider struct {
	mu           sync.Mutex
	targets      map[string]types.Target
	observations map[string][]types.RunObservation // key: targetID, append order
	ledgers      map[string][]types.RemediationAttempt
	signatures   map[types.FailureSignature]types.SignatureState
	verdicts     map[string]types.Verdict
	cursors      map[string]int64
	locks        map[string]time.Time

	// PingErr, when set, is returned by Ping.
	PingErr error
	// AppendErr, when set, is returned by AppendAttempt.
	AppendErr error

	listCount atomic.Int64 // incremented on each ListTargets call
}

// NewMockProvider creates a new in-memory mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		targets:      make(map[string]types.Target),
		observations: make(map[string][]types.RunObservation),
		ledgers:      make(map[string][]types.RemediationAttempt),
		signatures:   make(map[types.FailureSignature]types.SignatureState),
		verdicts:     make(map[string]types.Verdict),
		cursors:      make(map[string]int64),
		locks:        make(map[string]time.Time),
	}
}

func (m *MockProvider) CreateTarget(_ context.Context, target types.Target) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[target.ID]; ok {
		return false, nil
	}
	m.targets[target.ID] = target
	return true, nil
}

func (m *MockProvider) PutTarget(_ context.Context, target types.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[target.ID] = target
	return nil
}

func (m *MockProvider) GetTarget(_ context.Context, id string) (*types.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MockProvider) ListTargets(_ context.Context) ([]types.Target, error) {
	m.listCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]types.Target, 0, len(m.targets))
	for _, t := range m.targets {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListCount returns the number of times ListTargets has been called.
// Useful for waiting until a loop has completed at least N cycles.
func (m *MockProvider) ListCount() int64 {
	return m.listCount.Load()
}

func (m *MockProvider) PutObservation(_ context.Context, obs types.RunObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations[obs.TargetID] = append(m.observations[obs.TargetID], obs)
	return nil
}

func (m *MockProvider) ListObservations(_ context.Context, targetID string, limit int) ([]types.RunObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.observations[targetID]
	var result []types.RunObservation
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, src[i])
	}
	return result, nil
}

func (m *MockProvider) DeleteObservation(_ context.Context, obs types.RunObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.observations[obs.TargetID]
	for i, o := range src {
		if o.ID == obs.ID {
			m.observations[obs.TargetID] = append(src[:i:i], src[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockProvider) AppendAttempt(_ context.Context, ledgerKey string, attempt types.RemediationAttempt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return false, m.AppendErr
	}
	for _, a := range m.ledgers[ledgerKey] {
		if a.AttemptNumber == attempt.AttemptNumber {
			return false, nil
		}
	}
	ledger := append(m.ledgers[ledgerKey], attempt)
	sort.Slice(ledger, func(i, j int) bool { return ledger[i].AttemptNumber < ledger[j].AttemptNumber })
	m.ledgers[ledgerKey] = ledger
	return true, nil
}

func (m *MockProvider) ListAttempts(_ context.Context, ledgerKey string) ([]types.RemediationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.RemediationAttempt(nil), m.ledgers[ledgerKey]...), nil
}

func (m *MockProvider) GetSignature(_ context.Context, sig types.FailureSignature) (*types.SignatureState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signatures[sig]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MockProvider) PutSignature(_ context.Context, state types.SignatureState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signatures[state.Signature] = state
	return nil
}

func (m *MockProvider) ListSignatures(_ context.Context, targetID string) ([]types.SignatureState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []types.SignatureState
	for _, s := range m.signatures {
		if s.TargetID == targetID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Signature < result[j].Signature })
	return result, nil
}

func (m *MockProvider) PutVerdict(_ context.Context, verdict types.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[verdict.RunID] = verdict
	return nil
}

func (m *MockProvider) GetVerdict(_ context.Context, runID string) (*types.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verdicts[runID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *MockProvider) DeleteVerdict(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.verdicts, runID)
	return nil
}

func (m *MockProvider) GetCursor(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[name], nil
}

func (m *MockProvider) PutCursor(_ context.Context, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = value
	return nil
}

func (m *MockProvider) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.locks[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	m.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockProvider) ReleaseLock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func (m *MockProvider) Start(_ context.Context) error { return nil }
func (m *MockProvider) Stop(_ context.Context) error  { return nil }

func (m *MockProvider) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

// SetPingErr changes the Ping result under the lock.
func (m *MockProvider) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingErr = err
}

// Verdicts returns a snapshot of the persisted verdicts keyed by run id.
func (m *MockProvider) Verdicts() map[string]types.Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.Verdict, len(m.verdicts))
	for k, v := range m.verdicts {
		out[k] = v
	}
	return out
}

// LedgerSize returns the total number of attempts across all ledgers.
func (m *MockProvider) LedgerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.ledgers {
		n += len(l)
	}
	return n
}
