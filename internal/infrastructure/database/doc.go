// Package database provides the SQLite connection behind the capture catalog.
//
// This package manages:
//   - Database connection with WAL mode and busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Transaction helper with rollback on error
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or carry a
// DEFAULT, and each .up.sql should ship with a .down.sql.
package database
