// Package store persists scraped records in Postgres and tracks what
// changed between runs. A Repo speaks SQL for one record kind; the
// Tracker implements the find-or-create-then-conditionally-diff upsert
// protocol on top and writes one change-log row per detected content
// change.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/venturescope/scraperd/internal/record"
)

// DB is the narrow pgx surface the repositories need. *pgxpool.Pool
// satisfies it in production, pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Row is a stored record as read back from the database: bookkeeping
// plus the content fields the diff runs against.
type Row struct {
	Stored record.Stored
	Fields map[string]any
}

// FieldDiff is one changed field inside a change-log entry.
type FieldDiff struct {
	Old string `json:"old"`
	New string `json:"new"`
}
