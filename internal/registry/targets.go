package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// UpsertOptions controls UpsertTarget.
type UpsertOptions struct {
	// Update allows an existing triple's label, channel and policy to change.
	Update bool
}

// UpsertTarget registers a target and returns its id. Registration is
// idempotent by (account, project, workflow). When the triple exists with a
// different label or channel, ErrDuplicateTarget is returned unless
// opts.Update is set.
func (r *Registry) UpsertTarget(ctx context.Context, t types.Target, opts UpsertOptions) (string, error) {
	t.AccountID = strings.TrimSpace(t.AccountID)
	t.ProjectID = strings.TrimSpace(t.ProjectID)
	t.WorkflowID = strings.TrimSpace(t.WorkflowID)
	if t.AccountID == "" || t.ProjectID == "" {
		return "", fmt.Errorf("target requires account and project")
	}
	if t.WorkflowID == "" {
		t.WorkflowID = types.AllWorkflows
	}
	if t.Label == "" {
		t.Label = t.ProjectID
	}
	t.ID = types.TargetID(t.AccountID, t.ProjectID, t.WorkflowID)

	r.targetsMu.Lock()
	defer r.targetsMu.Unlock()

	existing, err := r.provider.GetTarget(ctx, t.ID)
	if err != nil {
		return "", fmt.Errorf("loading target %s: %w", t.ID, err)
	}
	if existing == nil {
		now := r.now()
		t.Enabled = true
		t.AddedAt = now
		t.UpdatedAt = now
		created, err := r.provider.CreateTarget(ctx, t)
		if err != nil {
			return "", fmt.Errorf("creating target %s: %w", t.ID, err)
		}
		if created {
			r.logger.Info("target registered", "target", t.ID, "key", t.Key(), "label", t.Label)
			return t.ID, nil
		}
		// Another process registered the triple between the read and the write.
		if existing, err = r.provider.GetTarget(ctx, t.ID); err != nil {
			return "", fmt.Errorf("reloading target %s: %w", t.ID, err)
		}
		if existing == nil {
			return "", fmt.Errorf("target %s vanished during registration: %w", t.ID, types.ErrNotFound)
		}
	}

	if sameRegistration(*existing, t) {
		return t.ID, nil
	}
	if !opts.Update {
		return "", fmt.Errorf("%w: %s is registered as %q", types.ErrDuplicateTarget, existing.Key(), existing.Label)
	}

	existing.Label = t.Label
	if t.Channel != "" {
		existing.Channel = t.Channel
	}
	if t.RepoURL != "" {
		existing.RepoURL = t.RepoURL
	}
	existing.Policy = t.Policy
	existing.UpdatedAt = r.now()
	if err := r.provider.PutTarget(ctx, *existing); err != nil {
		return "", fmt.Errorf("updating target %s: %w", t.ID, err)
	}
	r.logger.Info("target updated", "target", t.ID, "label", existing.Label)
	return t.ID, nil
}

func sameRegistration(existing, t types.Target) bool {
	if existing.Label != t.Label {
		return false
	}
	if t.Channel != "" && existing.Channel != t.Channel {
		return false
	}
	if t.Policy != nil && (existing.Policy == nil || *existing.Policy != *t.Policy) {
		return false
	}
	return true
}

// GetTarget returns a target or ErrNotFound.
func (r *Registry) GetTarget(ctx context.Context, id string) (types.Target, error) {
	t, err := r.provider.GetTarget(ctx, id)
	if err != nil {
		return types.Target{}, fmt.Errorf("loading target %s: %w", id, err)
	}
	if t == nil {
		return types.Target{}, fmt.Errorf("target %s: %w", id, types.ErrNotFound)
	}
	return *t, nil
}

// ListTargets returns every target, enabled or not, sorted by triple.
func (r *Registry) ListTargets(ctx context.Context) ([]types.Target, error) {
	r.targetsMu.RLock()
	defer r.targetsMu.RUnlock()
	return r.listSorted(ctx, false)
}

// ListEnabledTargets returns a consistent snapshot of the enabled targets,
// sorted by triple. Concurrent registrations land either wholly before or
// wholly after the snapshot.
func (r *Registry) ListEnabledTargets(ctx context.Context) ([]types.Target, error) {
	r.targetsMu.RLock()
	defer r.targetsMu.RUnlock()
	return r.listSorted(ctx, true)
}

func (r *Registry) listSorted(ctx context.Context, enabledOnly bool) ([]types.Target, error) {
	all, err := r.provider.ListTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	out := make([]types.Target, 0, len(all))
	for _, t := range all {
		if enabledOnly && !t.Enabled {
			continue
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, CompareTargets)
	return out, nil
}

// SetEnabled toggles a target's enabled flag.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.targetsMu.Lock()
	defer r.targetsMu.Unlock()

	t, err := r.GetTarget(ctx, id)
	if err != nil {
		return err
	}
	if t.Enabled == enabled {
		return nil
	}
	t.Enabled = enabled
	t.UpdatedAt = r.now()
	if err := r.provider.PutTarget(ctx, t); err != nil {
		return fmt.Errorf("updating target %s: %w", id, err)
	}
	r.logger.Info("target enabled flag changed", "target", id, "enabled", enabled)
	return nil
}

// SeedTargets registers configured targets. Configuration is authoritative,
// so existing triples take the configured label.
func (r *Registry) SeedTargets(ctx context.Context, cfgs []types.TargetConfig) error {
	for _, c := range cfgs {
		_, err := r.UpsertTarget(ctx, types.Target{
			AccountID:  c.Account,
			ProjectID:  c.Project,
			WorkflowID: c.Workflow,
			Label:      c.Label,
			Channel:    c.Channel,
			RepoURL:    c.RepoURL,
			Policy:     c.Policy,
		}, UpsertOptions{Update: true})
		if err != nil {
			return fmt.Errorf("seeding target %s/%s: %w", c.Account, c.Project, err)
		}
	}
	return nil
}

// CompareTargets orders targets by (account, project, workflow).
func CompareTargets(a, b types.Target) int {
	if c := strings.Compare(a.AccountID, b.AccountID); c != 0 {
		return c
	}
	if c := strings.Compare(a.ProjectID, b.ProjectID); c != 0 {
		return c
	}
	return strings.Compare(a.WorkflowID, b.WorkflowID)
}
