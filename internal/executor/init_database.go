package executor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/alloc"
)

// DB is the slice of the database surface the actions need; *pgxpool.Pool
// satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// initDatabase reserves an identifier namespace from the global allocator
// and creates the per-workspace schema. The namespace is derived from the
// wsid, so a retry reserves the same name, and CREATE SCHEMA IF NOT EXISTS
// makes the side effect re-runnable.
type initDatabase struct {
	db         DB
	namespaces *alloc.Namespaces
}

func (a *initDatabase) Name() string { return "init_database" }

func (a *initDatabase) Execute(ctx context.Context, in Input) (map[string]string, error) {
	ns, err := a.namespaces.Reserve(in.WSID)
	if err != nil {
		return nil, Fatal(fmt.Errorf("reserve namespace: %w", err))
	}
	// ns is sanitized to [a-z0-9_] by the allocator; safe as an identifier.
	if _, err := a.db.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, ns)); err != nil {
		return nil, Transient(fmt.Errorf("create schema %s: %w", ns, err))
	}
	in.Log.Info("schema created", zap.String("namespace", ns))
	return map[string]string{"namespace": ns}, nil
}

// dropDatabase is the compensating action for init_database.
type dropDatabase struct {
	db         DB
	namespaces *alloc.Namespaces
}

func (a *dropDatabase) Name() string { return "drop_database" }

func (a *dropDatabase) Compensate(ctx context.Context, in Input) error {
	ns, ok := a.namespaces.Held(in.WSID)
	if !ok {
		// Allocator lost the grant (restart before seeding); fall back to
		// the recorded step output.
		ns = in.Param("namespace")
	}
	if ns == "" {
		return nil
	}
	if _, err := a.db.Exec(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, ns)); err != nil {
		return Transient(fmt.Errorf("drop schema %s: %w", ns, err))
	}
	a.namespaces.Release(in.WSID)
	return nil
}
