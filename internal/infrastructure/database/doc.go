// Package database provides SQLite storage for the Yunmao bridge.
//
// It opens the database with WAL mode and a busy timeout, and applies
// embedded schema migrations tracked in schema_migrations. The schema holds
// the device directory: which Yunmao module circuits are exposed as lights
// and curtains.
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
// Migration files are named <version>_<name>.up.sql with an optional
// matching .down.sql, and are applied in lexical version order.
package database
