// Package database provides SQLite connectivity for connectd's command
// audit.
//
// Device state is never persisted; it is rebuilt from the controller on
// every start. The database only holds the command audit trail, so it is
// optional (database.enabled).
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or have a
// DEFAULT, and columns are never dropped or renamed.
package database
