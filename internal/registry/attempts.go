package registry

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// AttemptsFor returns the attempts of a signature's current generation in
// attempt-number order.
func (r *Registry) AttemptsFor(ctx context.Context, sig types.FailureSignature) ([]types.RemediationAttempt, error) {
	state, err := r.provider.GetSignature(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("loading signature %s: %w", sig, err)
	}
	gen := 0
	if state != nil {
		gen = state.Generation
	}
	attempts, err := r.provider.ListAttempts(ctx, types.LedgerKey(sig, gen))
	if err != nil {
		return nil, fmt.Errorf("loading attempts for %s: %w", sig, err)
	}
	return attempts, nil
}

// RecordAttempt appends a retry attempt to the signature's current ledger.
// The attempt number must be exactly one past the ledger length and within
// the target's max-attempts bound; anything else is ErrStateInvariant.
// Callers hold the signature lock.
func (r *Registry) RecordAttempt(ctx context.Context, sig types.FailureSignature, attempt types.RemediationAttempt) error {
	if attempt.Action != types.ActionRetry {
		return fmt.Errorf("%w: only retry actions enter the ledger, got %s", types.ErrStateInvariant, attempt.Action)
	}
	target, err := r.GetTarget(ctx, attempt.TargetID)
	if err != nil {
		return err
	}

	state, err := r.provider.GetSignature(ctx, sig)
	if err != nil {
		return fmt.Errorf("loading signature %s: %w", sig, err)
	}
	gen := 0
	if state != nil {
		gen = state.Generation
	}
	ledgerKey := types.LedgerKey(sig, gen)
	existing, err := r.provider.ListAttempts(ctx, ledgerKey)
	if err != nil {
		return fmt.Errorf("loading attempts for %s: %w", sig, err)
	}

	want := len(existing) + 1
	if attempt.AttemptNumber != want {
		return fmt.Errorf("%w: attempt number %d for %s, expected %d", types.ErrStateInvariant, attempt.AttemptNumber, sig, want)
	}
	if bound := r.PolicyFor(target).MaxAttempts; attempt.AttemptNumber > bound {
		return fmt.Errorf("%w: attempt %d for %s exceeds bound %d", types.ErrStateInvariant, attempt.AttemptNumber, sig, bound)
	}

	attempt.Signature = sig
	if attempt.ID == "" {
		attempt.ID = ulid.Make().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = r.now()
	}
	ok, err := r.provider.AppendAttempt(ctx, ledgerKey, attempt)
	if err != nil {
		return fmt.Errorf("appending attempt for %s: %w", sig, err)
	}
	if !ok {
		return fmt.Errorf("%w: attempt %d for %s already recorded", types.ErrStateInvariant, attempt.AttemptNumber, sig)
	}
	return nil
}

// LockSignature serializes writers of one signature. The returned function
// releases the lock.
func (r *Registry) LockSignature(sig types.FailureSignature) (unlock func()) {
	return r.sigLocks.lock(sig)
}
