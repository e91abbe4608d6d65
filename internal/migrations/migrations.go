// Package migrations contains the database schema migrations.
//
// Each migration file registers itself with the Migrations collection via
// init(). Migrations run in lexicographic order of their timestamps, so new
// files must use a timestamp later than every existing one.
package migrations

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection the db CLI commands operate on.
var Migrations = migrate.NewMigrations()
