// Package migrations embeds the SQLite schema so the middleware can migrate
// its database without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/modbus-mw/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
