package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// Signature returns the stored state of a signature, or nil.
func (r *Registry) Signature(ctx context.Context, sig types.FailureSignature) (*types.SignatureState, error) {
	state, err := r.provider.GetSignature(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("loading signature %s: %w", sig, err)
	}
	return state, nil
}

// SaveSignature stores a signature's state.
func (r *Registry) SaveSignature(ctx context.Context, state types.SignatureState) error {
	state.UpdatedAt = r.now()
	if err := r.provider.PutSignature(ctx, state); err != nil {
		return fmt.Errorf("saving signature %s: %w", state.Signature, err)
	}
	return nil
}

// OpenSignatures returns a target's signatures that are not resolved.
func (r *Registry) OpenSignatures(ctx context.Context, targetID string) ([]types.SignatureState, error) {
	all, err := r.provider.ListSignatures(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("listing signatures for %s: %w", targetID, err)
	}
	var open []types.SignatureState
	for _, s := range all {
		if s.Open() {
			open = append(open, s)
		}
	}
	return open, nil
}

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per signature and forgets it once no
// goroutine holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[types.FailureSignature]*refMutex
}

func (k *keyedMutex) lock(key types.FailureSignature) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
