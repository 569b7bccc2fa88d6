// Package db provides the thin DBTX seam a generated data layer would
// normally be built on, hand-written here since this system's schema is
// small enough not to warrant a code generator: a topologies table holding
// each aggregate as JSONB, plus the audit_log and usage_records tables,
// queried with plain SQL and manual scanning.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of *pgxpool.Pool (or a *pgxpool.Conn, or a pgx.Tx)
// that query code needs, so tests can swap in a fake.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)
