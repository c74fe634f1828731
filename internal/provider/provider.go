// Package provider defines the storage backend interface for the run registry.
package provider

import (
	"context"
	"time"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Provider is the storage backend interface. DynamoDB backs Lambda
// deployments; SQLite backs single-host deployments and the CLI.
//
// Read methods return (nil, nil) for a missing record. Observations and
// attempts are append-only.
type Provider interface {
	// Targets
	CreateTarget(ctx context.Context, target types.Target) (bool, error)
	PutTarget(ctx context.Context, target types.Target) error
	GetTarget(ctx context.Context, id string) (*types.Target, error)
	ListTargets(ctx context.Context) ([]types.Target, error)

	// Run observations, newest first. limit <= 0 lists all.
	PutObservation(ctx context.Context, obs types.RunObservation) error
	ListObservations(ctx context.Context, targetID string, limit int) ([]types.RunObservation, error)
	DeleteObservation(ctx context.Context, obs types.RunObservation) error

	// Attempt ledger. AppendAttempt returns false when the attempt number is
	// already taken in the ledger. ListAttempts is ordered by attempt number.
	AppendAttempt(ctx context.Context, ledgerKey string, attempt types.RemediationAttempt) (bool, error)
	ListAttempts(ctx context.Context, ledgerKey string) ([]types.RemediationAttempt, error)

	// Failure signature state
	GetSignature(ctx context.Context, sig types.FailureSignature) (*types.SignatureState, error)
	PutSignature(ctx context.Context, state types.SignatureState) error
	ListSignatures(ctx context.Context, targetID string) ([]types.SignatureState, error)

	// Verdict cache keyed by run id
	PutVerdict(ctx context.Context, verdict types.Verdict) error
	GetVerdict(ctx context.Context, runID string) (*types.Verdict, error)
	DeleteVerdict(ctx context.Context, runID string) error

	// Named cursors (inbound message offsets)
	GetCursor(ctx context.Context, name string) (int64, error)
	PutCursor(ctx context.Context, name string, value int64) error

	// Distributed locking for cycle coordination
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
