// Package database provides the SQLite connection used by the dispatch log.
//
// This package manages:
//   - Connection setup with busy timeout and optional WAL mode
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Health checks and lifecycle
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
