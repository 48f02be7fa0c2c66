package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clinicops/secobs/internal/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type migrationFile struct {
	version int
	name    string
	path    string
	kind    string // up or down
}

// Migrator applies the embedded SQL migrations with schema_migrations bookkeeping
type Migrator struct {
	db  *sql.DB
	fs  fs.FS
	log logger.Logger
}

// NewMigrator creates a migrator over the embedded migration files
func NewMigrator(db *sql.DB, log logger.Logger) *Migrator {
	return &Migrator{db: db, fs: migrationFS, log: log}
}

// Up applies every pending up migration in version order
func (m *Migrator) Up(ctx context.Context) error {
	files, err := m.prepare(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if f.kind != "up" {
			continue
		}
		applied, err := m.alreadyApplied(ctx, f.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		m.log.Info(ctx, "Applying migration", map[string]interface{}{"version": f.version, "name": f.name})
		if err := m.exec(ctx, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations(version, name, applied_at) VALUES($1, $2, $3)",
				f.version, f.name, time.Now().UTC())
			return err
		}); err != nil {
			return fmt.Errorf("failed applying %s: %w", f.path, err)
		}
	}
	return nil
}

// Down reverts applied migrations in reverse order. steps <= 0 reverts all.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	files, err := m.prepare(ctx)
	if err != nil {
		return err
	}

	var downs []migrationFile
	for _, f := range files {
		if f.kind == "down" {
			downs = append(downs, f)
		}
	}
	sort.Slice(downs, func(i, j int) bool { return downs[i].version > downs[j].version })

	reverted := 0
	for _, f := range downs {
		if steps > 0 && reverted >= steps {
			break
		}
		applied, err := m.alreadyApplied(ctx, f.version)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}

		m.log.Info(ctx, "Reverting migration", map[string]interface{}{"version": f.version, "name": f.name})
		if err := m.exec(ctx, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", f.version)
			return err
		}); err != nil {
			return fmt.Errorf("failed reverting %s: %w", f.path, err)
		}
		reverted++
	}
	return nil
}

func (m *Migrator) prepare(ctx context.Context) ([]migrationFile, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}
	return loadMigrationFiles(m.fs, "migrations")
}

func (m *Migrator) alreadyApplied(ctx context.Context, version int) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
	return exists, err
}

// exec runs one migration file and its bookkeeping in a single transaction.
func (m *Migrator) exec(ctx context.Context, f migrationFile, bookkeeping func(tx *sql.Tx) error) error {
	body, err := fs.ReadFile(m.fs, f.path)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	if err := bookkeeping(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func loadMigrationFiles(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".sql") {
			continue
		}

		kind := "up"
		if strings.HasSuffix(lower, ".down.sql") {
			kind = "down"
		}

		ver, migName, err := parseVersionAndName(name)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{
			version: ver,
			name:    migName,
			path:    dir + "/" + name,
			kind:    kind,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// parseVersionAndName splits "003_create_x.up.sql" into (3, "create_x").
func parseVersionAndName(filename string) (int, string, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 {
		return 0, "", errors.New("invalid filename")
	}
	ver, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version in %s", filename)
	}
	name := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(parts[1], ".sql"), ".up"), ".down")
	return ver, name, nil
}
