package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is what services need from postgres. *pgxpool.Pool and pgxmock
// pools satisfy it; pgx.Tx satisfies everything but Begin, see Execer.
type Querier interface {
	Execer
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Execer runs statements, either on the pool or inside a transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
