// Package store is the hand-written pgx query layer over the orbit schema.
package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/schema.sql
var schemaSQL string

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DBTX
}

func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// Migrate applies the embedded schema. Statements are idempotent, so it is
// safe to run at every startup.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryWorkspaceLock attempts the session-level advisory lock for wsid.
// The caller must run it on a dedicated connection and pair it with
// UnlockWorkspace on the same connection.
func (s *Store) TryWorkspaceLock(ctx context.Context, wsid string) (bool, error) {
	var got bool
	err := s.db.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, wsid).Scan(&got)
	if err != nil {
		return false, fmt.Errorf("advisory lock %s: %w", wsid, err)
	}
	return got, nil
}

// UnlockWorkspace releases the session-level advisory lock for wsid.
func (s *Store) UnlockWorkspace(ctx context.Context, wsid string) error {
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, wsid); err != nil {
		return fmt.Errorf("advisory unlock %s: %w", wsid, err)
	}
	return nil
}
