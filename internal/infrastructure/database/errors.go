package database

import "errors"

var (
	// ErrNoPath is returned by Open when no database file is configured.
	ErrNoPath = errors.New("database: path is required")

	// ErrBadMigration is returned for a migration file that does not follow
	// the <YYYYMMDD>_<HHMMSS>_<name>.sql naming, or that reuses a version.
	ErrBadMigration = errors.New("database: malformed migration")

	// ErrSchemaAhead is returned when the database records a migration this
	// binary does not know, i.e. a newer build has already upgraded it.
	ErrSchemaAhead = errors.New("database: schema is newer than this build")
)
