// Package database provides SQLite connectivity for the Keystone credential
// store and audit trail.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout for concurrent writers
//   - Loading versioned migrations from an fs.FS
//   - Applying and rolling back migrations, one transaction each
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. LoadMigrations is shared with the postgres
// package so both backends follow the same versioning rules.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.SQLite); err != nil {
//	    log.Fatal(err)
//	}
package database
