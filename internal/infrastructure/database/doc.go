// Package database provides SQLite connectivity for the secbot audit trail.
//
// This package manages:
//   - Database connection with WAL mode so secbotctl can read while the
//     authorizer writes
//   - Forward-only schema migrations embedded in the binary
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive only. New columns must be NULLABLE or carry a
// DEFAULT, and existing columns are never dropped or renamed, so an older
// binary can still read a newer audit file.
package database
