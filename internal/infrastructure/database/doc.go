// Package database provides the SQLite connection shared by the device
// catalogs, the connectivity history and the relay fault log.
//
// The connection runs in WAL mode so HTTP history queries can read while the
// monitor loops append samples. The pool is capped at one connection because
// SQLite allows a single writer.
//
// Schema changes are forward-only .up.sql files embedded by the migrations
// package and applied by Migrate at startup.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
