// Package db holds the hand-written, sqlc-shaped query layer for the
// global public schema: realm registration (public.realms). Everything
// that lives inside a realm's own "realm_<slug>" schema — devices, tokens,
// capability entries — is queried directly by the owning package
// (internal/heimdall, internal/odin) against a realm-scoped connection
// instead, since those queries never cross realm boundaries and gain
// nothing from a shared Queries type.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts over *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx so Queries
// can run against whichever the caller holds, grounded on sqlc's standard
// generated DBTX interface.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the query root, constructed from any DBTX.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to db, which may be a *pgxpool.Pool,
// *pgxpool.Conn, or pgx.Tx.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}
