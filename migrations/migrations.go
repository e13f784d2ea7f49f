// Package migrations embeds the SQL migrations of the subscription audit
// store, one directory per SQL dialect.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// dialects maps a database/sql driver name to its migration directory.
var dialects = map[string]string{
	"sqlite3":  "sqlite",
	"postgres": "postgres",
}

// For returns the migrations for driver, rooted at the dialect directory.
func For(driver string) (fs.FS, error) {
	dir, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("no migrations for database driver %q", driver)
	}
	return fs.Sub(files, dir)
}
