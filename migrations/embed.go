// Package migrations embeds the audit database migrations into the binary.
//
// Importing this package for side effects registers the files with the
// database package.
package migrations

import (
	"embed"

	"github.com/queeriouslabs/secbot/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
