package db

import (
	"context"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Migrations describes one embedded set of .sql files and where their
// bookkeeping lives.
type Migrations struct {
	Schema string // schema holding schema_migrations, created if missing
	FS     fs.FS
	Dir    string
	LockID int64 // pg_advisory_xact_lock key serializing concurrent runs
}

// Migrate applies every .sql file in m.Dir not yet recorded, in lexicographic
// order, inside one transaction. The advisory lock is transaction-scoped, so
// it is released on commit or rollback on the same connection that took it.
func Migrate(ctx context.Context, pool Pool, m Migrations) error {
	log := zap.L().With(zap.String("component", "db.migrate"), zap.String("schema", m.Schema))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin migration transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", m.LockID); err != nil {
		return eris.Wrap(err, "db: acquire migration advisory lock")
	}

	table := m.Schema + ".schema_migrations"
	ensure := `CREATE SCHEMA IF NOT EXISTS ` + sanitizeTable(m.Schema) + `;
		CREATE TABLE IF NOT EXISTS ` + sanitizeTable(table) + ` (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`
	if _, err := tx.Exec(ctx, ensure); err != nil {
		return eris.Wrap(err, "db: ensure migration table")
	}

	entries, err := fs.ReadDir(m.FS, m.Dir)
	if err != nil {
		return eris.Wrap(err, "db: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := appliedMigrations(ctx, tx, table)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || applied[name] {
			continue
		}

		data, err := fs.ReadFile(m.FS, m.Dir+"/"+name)
		if err != nil {
			return eris.Wrapf(err, "db: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "db: apply migration %s", name)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO "+sanitizeTable(table)+" (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "db: record migration %s", name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: commit migrations")
	}
	return nil
}

func appliedMigrations(ctx context.Context, tx pgx.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT filename FROM "+sanitizeTable(table))
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
