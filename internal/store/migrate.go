package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"database/sql"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrationFiles lists a dialect's SQL files in name order: 001_..., 002_....
func migrationFiles(dialect string) ([]string, error) {
	dir := "migrations/" + dialect
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, dir+"/"+e.Name())
	}
	return files, nil
}

// RunSQLiteMigrations executes every SQLite migration, each in a single
// transaction. Statements are idempotent.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	files, err := migrationFiles("sqlite")
	if err != nil {
		return err
	}
	for _, name := range files {
		sqlBytes, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// RunPostgresMigrations applies the Postgres schema over a dedicated
// connection. It must run before the pool prepares its statements.
func RunPostgresMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	files, err := migrationFiles("postgres")
	if err != nil {
		return err
	}
	for _, name := range files {
		sqlBytes, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return err
		}
		err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, string(sqlBytes))
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
