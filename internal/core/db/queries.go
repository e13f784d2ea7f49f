package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queryFiles embed.FS

// storeQueries are the named queries Store runs; NewQueries fails when one
// is missing from the embedded files.
var storeQueries = []string{
	"insert-subscription",
	"end-subscription",
	"end-open-subscriptions",
	"list-active-subscriptions",
	"list-subscriptions",
}

// Queries runs named queries from the embedded dotsql files. Each query is
// rebound to the driver's placeholder style once, at construction.
type Queries struct {
	db  *sqlx.DB
	sql map[string]string
}

// NewQueries parses the embedded query files for db.
func NewQueries(db *sqlx.DB) (*Queries, error) {
	names, err := fs.Glob(queryFiles, "queries/*.sql")
	if err != nil {
		return nil, err
	}
	var src strings.Builder
	for _, name := range names {
		content, err := queryFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		src.Write(content)
		src.WriteByte('\n')
	}
	dot, err := dotsql.LoadFromString(src.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}

	q := &Queries{db: db, sql: make(map[string]string, len(storeQueries))}
	for _, name := range storeQueries {
		raw, err := dot.Raw(name)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", name, err)
		}
		q.sql[name] = db.Rebind(raw)
	}
	return q, nil
}

func (q *Queries) lookup(name string) (string, error) {
	s, ok := q.sql[name]
	if !ok {
		return "", fmt.Errorf("unknown query %s", name)
	}
	return s, nil
}

// Exec runs a named statement.
func (q *Queries) Exec(ctx context.Context, name string, args ...any) (sql.Result, error) {
	s, err := q.lookup(name)
	if err != nil {
		return nil, err
	}
	return q.db.ExecContext(ctx, s, args...)
}

// Select scans the rows of a named query into dest, a pointer to a slice.
func (q *Queries) Select(ctx context.Context, name string, dest any, args ...any) error {
	s, err := q.lookup(name)
	if err != nil {
		return err
	}
	return q.db.SelectContext(ctx, dest, s, args...)
}
