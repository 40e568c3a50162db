// Package migrations embeds the SQL schema of the dispatch log database so
// the binary can migrate without the files on disk.
package migrations

import "embed"

// FS holds the migration files at its root, ready for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
