package database

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/robocore/migrations"
)

func openTestDB(t *testing.T, schema fs.FS) *DB {
	t.Helper()
	return openTestDBAt(t, filepath.Join(t.TempDir(), "robocore.db"), schema)
}

func openTestDBAt(t *testing.T, path string, schema fs.FS) *DB {
	t.Helper()
	db, err := Open(Config{Path: path, WALMode: true, BusyTimeout: 1, Migrations: schema})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestMigrate_RobocoreSchema(t *testing.T) {
	db := openTestDB(t, migrations.FS)
	ctx := context.Background()

	st, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if st.Current() || st.Applied != 0 || st.Version != "" || len(st.Pending) != 2 {
		t.Fatalf("fresh status = %+v, want two pending", st)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// A restart runs Migrate again against the same file.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	if _, err := db.ExecContext(ctx,
		"INSERT INTO events (id, robot_id, name, message, created_at) VALUES (?, ?, ?, ?, ?)",
		"evt-1", "bot-1", "routine.started", "score-high", "2026-03-01T12:00:00Z",
	); err != nil {
		t.Errorf("insert into events: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO tuning_history (id, subsystem, kind, payload, source, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		"chg-1", "elevator", "gains", `{"slot":1,"kp":0.4}`, "api", "2026-03-15T12:00:00Z",
	); err != nil {
		t.Errorf("insert into tuning_history: %v", err)
	}
	// STRICT tables reject a value of the wrong type.
	if _, err := db.ExecContext(ctx,
		"INSERT INTO events (id, robot_id, name, message, created_at) VALUES (?, ?, ?, ?, ?)",
		"evt-2", "bot-1", "routine.started", []byte{0xff}, "2026-03-01T12:00:00Z",
	); err == nil {
		t.Error("STRICT events table accepted a blob message")
	}

	st, err = db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if !st.Current() || st.Applied != 2 || st.Version != "20260315_120000" {
		t.Errorf("migrated status = %+v", st)
	}
}

func TestMigrate_ResumesAfterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robocore.db")
	ctx := context.Background()

	broken := fstest.MapFS{
		"20260301_090000_create_events.sql":         {Data: []byte("CREATE TABLE events (id TEXT PRIMARY KEY) STRICT;")},
		"20260315_120000_create_tuning_history.sql": {Data: []byte("CREATE TABLE tuning_history (id TEXT PRIMARY KEY) STRICT; SELECT * FROM missing;")},
	}
	db := openTestDBAt(t, path, broken)
	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() error = nil, want failure on the second migration")
	}

	st, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if st.Applied != 1 || len(st.Pending) != 1 || st.Pending[0] != "20260315_120000_create_tuning_history" {
		t.Fatalf("status after failure = %+v", st)
	}
	var tables int
	db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE name = 'tuning_history'").Scan(&tables) //nolint:errcheck // checked below
	if tables != 0 {
		t.Error("failed migration left tuning_history behind")
	}
	db.Close() //nolint:errcheck // reopened below

	fixed := fstest.MapFS{
		"20260301_090000_create_events.sql":         broken["20260301_090000_create_events.sql"],
		"20260315_120000_create_tuning_history.sql": {Data: []byte("CREATE TABLE tuning_history (id TEXT PRIMARY KEY) STRICT;")},
	}
	db = openTestDBAt(t, path, fixed)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() after fix error = %v", err)
	}
	if st, _ := db.SchemaStatus(ctx); !st.Current() {
		t.Errorf("status after fix = %+v", st)
	}
}

func TestMigrate_RefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robocore.db")
	ctx := context.Background()

	db := openTestDBAt(t, path, migrations.FS)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	db.Close() //nolint:errcheck // reopened below

	older := fstest.MapFS{
		"20260301_090000_create_events.sql": {Data: []byte("SELECT 1;")},
	}
	db = openTestDBAt(t, path, older)
	if err := db.Migrate(ctx); !errors.Is(err, ErrSchemaAhead) {
		t.Errorf("Migrate() error = %v, want ErrSchemaAhead", err)
	}
	if _, err := db.SchemaStatus(ctx); !errors.Is(err, ErrSchemaAhead) {
		t.Errorf("SchemaStatus() error = %v, want ErrSchemaAhead", err)
	}
}

func TestMigrate_NoSchema(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	st, err := db.SchemaStatus(ctx)
	if err != nil || !st.Current() || st.Applied != 0 {
		t.Errorf("SchemaStatus() = %+v, %v", st, err)
	}
}

func TestLoadMigrations_RejectsBadFiles(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"duplicate version": {
			"20260301_090000_create_events.sql": {Data: []byte("SELECT 1;")},
			"20260301_090000_create_other.sql":  {Data: []byte("SELECT 1;")},
		},
		"missing name": {
			"20260301_090000.sql": {Data: []byte("SELECT 1;")},
		},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadMigrations(fsys); !errors.Is(err, ErrBadMigration) {
				t.Errorf("loadMigrations() error = %v, want ErrBadMigration", err)
			}
		})
	}

	// Files without the .sql suffix are not migrations.
	got, err := loadMigrations(fstest.MapFS{"README.md": {Data: []byte("#")}})
	if err != nil || len(got) != 0 {
		t.Errorf("loadMigrations(README) = %v, %v", got, err)
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantErr     bool
	}{
		{file: "20260301_090000_create_events.sql", wantVersion: "20260301_090000", wantName: "create_events"},
		{file: "20260315_120000_create_tuning_history.sql", wantVersion: "20260315_120000", wantName: "create_tuning_history"},
		{file: "20260301_090000_create_events.txt", wantErr: true},
		{file: "20261301_090000_bad_month.sql", wantErr: true},
		{file: "2026031_120000_short.sql", wantErr: true},
		{file: "create_events.sql", wantErr: true},
		{file: "20260301_090000_.sql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			m, err := parseMigrationName(tt.file)
			if tt.wantErr {
				if !errors.Is(err, ErrBadMigration) {
					t.Errorf("parseMigrationName() error = %v, want ErrBadMigration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMigrationName() error = %v", err)
			}
			if m.Version != tt.wantVersion || m.Name != tt.wantName {
				t.Errorf("parseMigrationName() = %s/%s, want %s/%s", m.Version, m.Name, tt.wantVersion, tt.wantName)
			}
		})
	}
}
