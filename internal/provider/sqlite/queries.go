package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

// GetTarget returns a target, or nil when it does not exist.
func (s *Store) GetTarget(ctx context.Context, id string) (*types.Target, error) {
	var target types.Target
	found, err := s.getJSON(ctx, &target, `SELECT data FROM targets WHERE id = ?`, id)
	if err != nil || !found {
		return nil, err
	}
	return &target, nil
}

// ListTargets returns every registered target.
func (s *Store) ListTargets(ctx context.Context) ([]types.Target, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM targets ORDER BY account_id, project_id, workflow_id`)
	if err != nil {
		return nil, err
	}
	return scanJSON[types.Target](rows)
}

// ListObservations returns a target's observations, newest first.
func (s *Store) ListObservations(ctx context.Context, targetID string, limit int) ([]types.RunObservation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM observations
		WHERE target_id = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?
	`, targetID, limit)
	if err != nil {
		return nil, err
	}
	return scanJSON[types.RunObservation](rows)
}

// ListAttempts returns a ledger's attempts in attempt-number order.
func (s *Store) ListAttempts(ctx context.Context, ledgerKey string) ([]types.RemediationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM attempts WHERE ledger_key = ? ORDER BY attempt_number
	`, ledgerKey)
	if err != nil {
		return nil, err
	}
	return scanJSON[types.RemediationAttempt](rows)
}

// GetSignature returns a signature's state, or nil when it does not exist.
func (s *Store) GetSignature(ctx context.Context, sig types.FailureSignature) (*types.SignatureState, error) {
	var state types.SignatureState
	found, err := s.getJSON(ctx, &state, `SELECT data FROM signatures WHERE signature = ?`, string(sig))
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// ListSignatures returns every signature recorded for a target.
func (s *Store) ListSignatures(ctx context.Context, targetID string) ([]types.SignatureState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM signatures WHERE target_id = ? ORDER BY signature
	`, targetID)
	if err != nil {
		return nil, err
	}
	return scanJSON[types.SignatureState](rows)
}

// GetVerdict returns the cached verdict for a run, or nil.
func (s *Store) GetVerdict(ctx context.Context, runID string) (*types.Verdict, error) {
	var verdict types.Verdict
	found, err := s.getJSON(ctx, &verdict, `SELECT data FROM verdicts WHERE run_id = ?`, runID)
	if err != nil || !found {
		return nil, err
	}
	return &verdict, nil
}

// GetCursor returns a named cursor, or 0 when it has never been written.
func (s *Store) GetCursor(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cursors WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

func (s *Store) getJSON(ctx context.Context, dst any, query string, args ...any) (bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("unmarshal: %w", err)
	}
	return true, nil
}

func scanJSON[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
