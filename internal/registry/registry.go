// Package registry is the durable record of monitored targets, their run
// observations and the remediation attempt ledgers. All mutation of that
// state goes through a Registry.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dwsmith1983/runwarden/internal/provider"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// DefaultRetention is the number of observations kept per target when no
// retention is configured.
const DefaultRetention = 20

// Registry wraps a storage provider with the target-set and ledger rules.
type Registry struct {
	provider  provider.Provider
	policy    types.RemediationPolicy
	retention int
	evict     func(ctx context.Context, runIDs ...string)
	logger    *slog.Logger
	now       func() time.Time

	// targetsMu serializes target-set mutations against cycle snapshots.
	targetsMu sync.RWMutex
	sigLocks  keyedMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithRetention sets how many observations are kept per target.
func WithRetention(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.retention = n
		}
	}
}

// WithEvictHook registers a callback receiving the run ids whose last
// observation aged out of the retention window.
func WithEvictHook(fn func(ctx context.Context, runIDs ...string)) Option {
	return func(r *Registry) { r.evict = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry over prov. policy is the project-wide remediation
// policy that per-target overrides are merged onto.
func New(prov provider.Provider, policy types.RemediationPolicy, opts ...Option) *Registry {
	r := &Registry{
		provider:  prov,
		policy:    policy,
		retention: DefaultRetention,
		logger:    slog.Default(),
		now:       time.Now,
		sigLocks:  keyedMutex{locks: make(map[types.FailureSignature]*refMutex)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetEvictHook replaces the eviction callback. It must be called before the
// registry is shared between goroutines.
func (r *Registry) SetEvictHook(fn func(ctx context.Context, runIDs ...string)) {
	r.evict = fn
}

// PolicyFor returns the effective remediation policy of a target.
func (r *Registry) PolicyFor(target types.Target) types.RemediationPolicy {
	return r.policy.Merge(target.Policy)
}

// Ping reports whether the backing store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.provider.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStorageUnavailable, err)
	}
	return nil
}

// Provider exposes the backing store for cursors and locks.
func (r *Registry) Provider() provider.Provider {
	return r.provider
}
