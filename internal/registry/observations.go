package registry

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// RecordObservation appends an observation for a target and returns its id.
// Observations beyond the retention window are deleted and the run ids that
// no longer have any retained observation are handed to the evict hook.
func (r *Registry) RecordObservation(ctx context.Context, targetID string, obs types.RunObservation) (string, error) {
	if _, err := r.GetTarget(ctx, targetID); err != nil {
		return "", err
	}

	obs.TargetID = targetID
	if obs.ID == "" {
		obs.ID = ulid.Make().String()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = r.now()
	}
	if err := r.provider.PutObservation(ctx, obs); err != nil {
		return "", fmt.Errorf("recording observation for %s: %w", targetID, err)
	}

	if err := r.trim(ctx, targetID); err != nil {
		// Retention is housekeeping; the observation itself is durable.
		r.logger.Warn("observation retention failed", "target", targetID, "error", err)
	}
	return obs.ID, nil
}

func (r *Registry) trim(ctx context.Context, targetID string) error {
	all, err := r.provider.ListObservations(ctx, targetID, 0)
	if err != nil {
		return err
	}
	if len(all) <= r.retention {
		return nil
	}

	kept := make(map[string]bool, r.retention)
	for _, o := range all[:r.retention] {
		kept[o.RunID] = true
	}
	var evicted []string
	seen := make(map[string]bool)
	for _, o := range all[r.retention:] {
		if err := r.provider.DeleteObservation(ctx, o); err != nil {
			return err
		}
		if !kept[o.RunID] && !seen[o.RunID] {
			seen[o.RunID] = true
			evicted = append(evicted, o.RunID)
		}
	}
	if len(evicted) > 0 && r.evict != nil {
		r.evict(ctx, evicted...)
	}
	return nil
}

// LatestObservation returns the newest observation of a target, or nil.
func (r *Registry) LatestObservation(ctx context.Context, targetID string) (*types.RunObservation, error) {
	obs, err := r.provider.ListObservations(ctx, targetID, 1)
	if err != nil {
		return nil, fmt.Errorf("loading observations for %s: %w", targetID, err)
	}
	if len(obs) == 0 {
		return nil, nil
	}
	return &obs[0], nil
}

// LatestWorkflowObservation returns the newest retained observation of one
// workflow of a target, or nil. An empty workflowID matches any workflow.
func (r *Registry) LatestWorkflowObservation(ctx context.Context, targetID, workflowID string) (*types.RunObservation, error) {
	if workflowID == "" {
		return r.LatestObservation(ctx, targetID)
	}
	obs, err := r.provider.ListObservations(ctx, targetID, r.retention)
	if err != nil {
		return nil, fmt.Errorf("loading observations for %s: %w", targetID, err)
	}
	for i := range obs {
		if obs[i].WorkflowID == workflowID {
			return &obs[i], nil
		}
	}
	return nil, nil
}

// Observations returns up to limit observations of a target, newest first.
func (r *Registry) Observations(ctx context.Context, targetID string, limit int) ([]types.RunObservation, error) {
	return r.provider.ListObservations(ctx, targetID, limit)
}
