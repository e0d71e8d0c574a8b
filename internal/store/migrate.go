package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/legis-cli/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID keys the advisory lock held while migrating.
const migrationLockID = 4120731

// Migrate runs all pending Postgres migrations in lexicographic order,
// recording each in schema_migrations. Everything runs in one transaction
// holding a transaction-scoped advisory lock, so the lock lives on the same
// connection as the migrations and is released on commit or rollback.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return eris.Wrap(err, "migrate: acquire advisory lock")
		}

		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
			return eris.Wrap(err, "migrate: ensure schema_migrations")
		}

		names, err := migrationNames()
		if err != nil {
			return err
		}

		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		for _, name := range names {
			if applied[name] {
				continue
			}

			data, err := migrationFS.ReadFile("migrations/" + name)
			if err != nil {
				return eris.Wrapf(err, "migrate: read %s", name)
			}

			log.Info("applying migration", zap.String("file", name))
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return eris.Wrapf(err, "migrate: apply %s", name)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
				name,
			); err != nil {
				return eris.Wrapf(err, "migrate: record %s", name)
			}
		}
		return nil
	})
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "migrate: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "migrate: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "migrate: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "migrate: iterate migrations")
}
