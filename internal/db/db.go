// Package db is a hand-written sqlc-style data access layer: Queries wraps
// a DBTX (pool, a single connection, or a transaction) and every query is a
// plain method returning typed rows. There is no code generator in this
// repository; the convention (New(pool) → *Queries, XxxParams structs) is
// kept identical to the generated packages this style is normally paired
// with so callers read the same either way.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts over *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx so the same
// Queries methods work whether called against the pool directly or inside
// a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the handle through which every SQL statement in this package
// is issued.
type Queries struct {
	db DBTX
}

// New wraps db in a Queries handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction, for callers that
// need several statements to commit atomically.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
