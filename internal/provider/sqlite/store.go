// Package sqlite implements the Provider interface on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dwsmith1983/runwarden/internal/provider"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

var _ provider.Provider = (*Store)(nil)

// Store is a SQLite-backed provider for single-host deployments.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at cfg.Path. Use ":memory:"
// for a throwaway database.
func New(cfg *types.SQLiteConfig) (*Store, error) {
	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create directory: %w", err)
			}
		}
		dsn = "file:" + cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: cfg.Path}, nil
}

// Start runs the schema DDL and verifies the connection.
func (s *Store) Start(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return s.Ping(ctx)
}

// Stop closes the database.
func (s *Store) Stop(_ context.Context) error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
