package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serialises migration runs across simulator processes
// sharing a database.
const migrationLockID int64 = 0x7061706572 // "paper"

const createMigrationTable = `
	CREATE TABLE IF NOT EXISTS papersim_migrations (
		name       TEXT PRIMARY KEY,
		checksum   TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

type migration struct {
	name     string
	sql      string
	checksum string
}

// loadMigrations reads every .sql file in dir of fsys, ordered by name.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("postgres: read migrations: %w", err)
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("postgres: read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(data)
		out = append(out, migration{name: e.Name(), sql: string(data), checksum: hex.EncodeToString(sum[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// pendingMigrations returns the migrations not yet in applied (name to
// checksum). An applied migration whose file has since changed is an error:
// the schema no longer matches what the file describes.
func pendingMigrations(all []migration, applied map[string]string) ([]migration, error) {
	var pending []migration
	for _, m := range all {
		sum, ok := applied[m.name]
		switch {
		case !ok:
			pending = append(pending, m)
		case sum != m.checksum:
			return nil, fmt.Errorf("postgres: migration %s changed after it was applied", m.name)
		}
	}
	return pending, nil
}

// RunMigrations applies the embedded migrations that have not run yet, each
// in its own transaction, and returns their names. Concurrent callers queue
// on an advisory lock.
func (c *Client) RunMigrations(ctx context.Context) ([]string, error) {
	all, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return nil, fmt.Errorf("postgres: migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if _, err := conn.Exec(ctx, createMigrationTable); err != nil {
		return nil, fmt.Errorf("postgres: create papersim_migrations: %w", err)
	}
	rows, err := conn.Query(ctx, "SELECT name, checksum FROM papersim_migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: read applied migrations: %w", err)
	}
	applied := make(map[string]string)
	var name, sum string
	if _, err := pgx.ForEachRow(rows, []any{&name, &sum}, func() error {
		applied[name] = sum
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: read applied migrations: %w", err)
	}

	pending, err := pendingMigrations(all, applied)
	if err != nil {
		return nil, err
	}
	var done []string
	for _, m := range pending {
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO papersim_migrations (name, checksum) VALUES ($1, $2)", m.name, m.checksum)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("postgres: apply migration %s: %w", m.name, err)
		}
		done = append(done, m.name)
	}
	return done, nil
}
