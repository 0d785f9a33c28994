// Package migrations embeds the SQL schema for each storage backend.
//
// Files follow the YYYYMMDD_HHMMSS_description.{up,down}.sql convention read
// by database.LoadMigrations.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// SQLite holds the schema for the default SQLite backend.
var SQLite = mustSub("sqlite")

// Postgres holds the schema for the PostgreSQL backend.
var Postgres = mustSub("postgres")

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		panic(err) // only fails for an invalid path literal
	}
	return sub
}
