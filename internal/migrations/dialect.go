package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Migrations branch on dialect where PostgreSQL and SQLite disagree on
// column types or index syntax.

// IsPostgreSQL reports whether the connection speaks PostgreSQL.
func IsPostgreSQL(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}

// IsSQLite reports whether the connection speaks SQLite.
func IsSQLite(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.SQLite
}
