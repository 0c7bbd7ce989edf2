package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrateDB adds transaction support to the query surface; migrations
// run each file atomically.
type MigrateDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

const createLedgerSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate applies the embedded SQL migrations in filename order,
// skipping any already recorded in the schema_migrations ledger. Each
// file runs in its own transaction; the first failure rolls back and
// stops the run.
func Migrate(ctx context.Context, db MigrateDB, log *zap.Logger) error {
	return migrateFS(ctx, db, migrationFS, log)
}

func migrateFS(ctx context.Context, db MigrateDB, fsys fs.FS, log *zap.Logger) error {
	if _, err := db.Exec(ctx, createLedgerSQL); err != nil {
		return fmt.Errorf("store: ensure migration ledger: %w", err)
	}

	entries, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("store: list migrations: %w", err)
	}
	sort.Strings(entries)

	applied := make(map[string]bool)
	rows, err := db.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("store: read migration ledger: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan migration ledger: %w", err)
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: read migration ledger: %w", err)
	}

	for _, path := range entries {
		name := path[len("migrations/"):]
		if applied[name] {
			continue
		}

		sql, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", name, err)
		}

		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("store: apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("store: record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", name, err)
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}
