// Package database owns robocore's SQLite file: opening it, applying the
// embedded schema, and reporting whether the schema is current.
//
// Two tables live here. events holds the diagnostic history written by the
// event recorder, so faults and mode changes survive a power cycle between
// matches. tuning_history records every gain or constraint change with its
// source.
//
// The file is opened with a single connection and, when configured, in WAL
// mode so the API can page through history while the recorder appends.
// File permissions are 0600.
//
// Migrations are forward-only. A file named
// <YYYYMMDD>_<HHMMSS>_<name>.sql is applied once, in version order, and
// recorded in schema_migrations. New columns must be nullable or carry a
// default so an older build can still read the file; a database touched by
// a newer build is refused with ErrSchemaAhead.
//
//	db, err := database.Open(database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    true,
//	    Migrations: migrations.FS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
