package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// versionLayout is the timestamp prefix of a migration file name.
const versionLayout = "20060102_150405"

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT NOT NULL
) STRICT`

// Migration is one schema file.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// SchemaStatus reports how far the database schema is behind this build.
type SchemaStatus struct {
	// Version is the latest applied migration; empty on a fresh database.
	Version string   `json:"version"`
	Applied int      `json:"applied"`
	Pending []string `json:"pending,omitempty"`
}

// Current reports whether every migration this build knows is applied.
func (s SchemaStatus) Current() bool {
	return len(s.Pending) == 0
}

// Migrate applies the pending migrations in version order. Each runs in
// its own transaction, so a failure leaves earlier migrations in place and
// a later Migrate resumes from the one that failed. Migrations only ever
// add: there is no down path.
func (db *DB) Migrate(ctx context.Context) error {
	known, err := loadMigrations(db.migrations)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}
	if err := checkKnown(known, applied); err != nil {
		return err
	}

	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range known {
		if done[m.Version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// SchemaStatus compares the applied migrations with the ones this build
// carries. It does not modify the database.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	known, err := loadMigrations(db.migrations)
	if err != nil {
		return SchemaStatus{}, err
	}

	var tables int
	if err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&tables); err != nil {
		return SchemaStatus{}, fmt.Errorf("looking up schema_migrations: %w", err)
	}

	var applied []string
	if tables > 0 {
		if applied, err = db.appliedVersions(ctx); err != nil {
			return SchemaStatus{}, err
		}
	}
	if err := checkKnown(known, applied); err != nil {
		return SchemaStatus{}, err
	}

	st := SchemaStatus{Applied: len(applied)}
	if len(applied) > 0 {
		st.Version = applied[len(applied)-1]
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range known {
		if !done[m.Version] {
			st.Pending = append(st.Pending, m.Version+"_"+m.Name)
		}
	}
	return st, nil
}

// appliedVersions returns the recorded versions, oldest first.
func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// checkKnown fails if the database has a migration this build lacks.
func checkKnown(known []Migration, applied []string) error {
	have := make(map[string]bool, len(known))
	for _, m := range known {
		have[m.Version] = true
	}
	for _, v := range applied {
		if !have[v] {
			return fmt.Errorf("%w: unknown migration %s", ErrSchemaAhead, v)
		}
	}
	return nil
}

// loadMigrations reads every *.sql file at the root of fsys, sorted by
// version.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(files))
	byVersion := make(map[string]string, len(files))
	for _, file := range files {
		m, err := parseMigrationName(file)
		if err != nil {
			return nil, err
		}
		if other, dup := byVersion[m.Version]; dup {
			return nil, fmt.Errorf("%w: %s and %s share version %s", ErrBadMigration, other, file, m.Version)
		}
		byVersion[m.Version] = file

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		m.SQL = string(body)
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationName splits "20260301_090000_create_events.sql" into
// version "20260301_090000" and name "create_events".
func parseMigrationName(file string) (Migration, error) {
	base, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return Migration{}, fmt.Errorf("%w: %s", ErrBadMigration, file)
	}
	if len(base) <= len(versionLayout)+1 || base[len(versionLayout)] != '_' {
		return Migration{}, fmt.Errorf("%w: %s", ErrBadMigration, file)
	}
	version := base[:len(versionLayout)]
	if _, err := time.Parse(versionLayout, version); err != nil {
		return Migration{}, fmt.Errorf("%w: %s: %v", ErrBadMigration, file, err)
	}
	return Migration{Version: version, Name: base[len(versionLayout)+1:]}, nil
}
