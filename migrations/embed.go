// Package migrations carries robocore's SQLite schema, compiled into the
// binary.
package migrations

import "embed"

// FS holds the schema files at its root. Pass it as database.Config.Migrations.
//
//go:embed *.sql
var FS embed.FS
