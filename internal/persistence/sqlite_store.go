package persistence

import (
	"context"
	"database/sql"
)

// NewSQLiteStore initializes the schema in db and returns a Store over
// it.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sqliteDialect)
}
