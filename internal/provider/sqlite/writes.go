package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// CreateTarget inserts a target unless its triple is already registered.
func (s *Store) CreateTarget(ctx context.Context, target types.Target) (bool, error) {
	data, err := json.Marshal(target)
	if err != nil {
		return false, fmt.Errorf("marshal target: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (id, account_id, project_id, workflow_id, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, target.ID, target.AccountID, target.ProjectID, target.WorkflowID, string(data))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// PutTarget upserts a target.
func (s *Store) PutTarget(ctx context.Context, target types.Target) error {
	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO targets (id, account_id, project_id, workflow_id, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data
	`, target.ID, target.AccountID, target.ProjectID, target.WorkflowID, string(data))
	return err
}

// PutObservation appends a run observation.
func (s *Store) PutObservation(ctx context.Context, obs types.RunObservation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("marshal observation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO observations (id, target_id, run_id, observed_at, data)
		VALUES (?, ?, ?, ?, ?)
	`, obs.ID, obs.TargetID, obs.RunID, obs.ObservedAt.UnixNano(), string(data))
	return err
}

// DeleteObservation removes an aged-out observation.
func (s *Store) DeleteObservation(ctx context.Context, obs types.RunObservation) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM observations WHERE id = ?`, obs.ID)
	return err
}

// AppendAttempt inserts an attempt; the primary key rejects a reused number.
func (s *Store) AppendAttempt(ctx context.Context, ledgerKey string, attempt types.RemediationAttempt) (bool, error) {
	data, err := json.Marshal(attempt)
	if err != nil {
		return false, fmt.Errorf("marshal attempt: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (ledger_key, attempt_number, data)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, ledgerKey, attempt.AttemptNumber, string(data))
	if err != nil {
		return false, err
	}
	return affected(res)
}

// PutSignature upserts the state of a failure signature.
func (s *Store) PutSignature(ctx context.Context, state types.SignatureState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signatures (signature, target_id, status, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (signature) DO UPDATE SET
			status = excluded.status,
			data   = excluded.data
	`, string(state.Signature), state.TargetID, string(state.Status), string(data))
	return err
}

// PutVerdict caches a verdict.
func (s *Store) PutVerdict(ctx context.Context, verdict types.Verdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verdicts (run_id, data) VALUES (?, ?)
		ON CONFLICT (run_id) DO UPDATE SET data = excluded.data
	`, verdict.RunID, string(data))
	return err
}

// DeleteVerdict evicts a cached verdict.
func (s *Store) DeleteVerdict(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE run_id = ?`, runID)
	return err
}

// PutCursor stores a named cursor.
func (s *Store) PutCursor(ctx context.Context, name string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`, name, value)
	return err
}

// AcquireLock takes the lock if it is free or its holder's TTL has passed.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (key, expires_at) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
		WHERE locks.expires_at < ?
	`, key, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReleaseLock releases a lock.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE key = ?`, key)
	return err
}
