package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/neo4j/graphql-sub030/migrations"
)

/*
 * Migration runner.
 *
 * Migrations are the embedded NNN_name.sql files of the connection's
 * dialect, applied in file name order. Each runs in its own transaction
 * together with its ledger row in schema_migrations. The ledger stores a
 * SHA-256 of the file: an applied migration whose file changed, or a ledger
 * row without a file, stops Up before anything runs.
 */

const ledgerTable = "schema_migrations"

// MigrationStatus is the state of one embedded migration.
type MigrationStatus struct {
	Version   string
	Checksum  string
	Applied   bool
	AppliedAt *time.Time
	Duration  time.Duration
}

type migration struct {
	version  string
	checksum string
	sql      string
}

type ledgerRow struct {
	Version    string    `db:"version"`
	Checksum   string    `db:"checksum"`
	AppliedAt  time.Time `db:"applied_at"`
	DurationMs int64     `db:"duration_ms"`
}

// Migrator applies the embedded migrations of one connection's dialect.
type Migrator struct {
	db  *sqlx.DB
	set []migration
}

// NewMigrator loads the migrations matching db's driver.
func NewMigrator(db *sqlx.DB) (*Migrator, error) {
	fsys, err := migrations.For(db.DriverName())
	if err != nil {
		return nil, err
	}
	set, err := loadMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return &Migrator{db: db, set: set}, nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	set := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		set = append(set, migration{
			version:  strings.TrimSuffix(name, ".sql"),
			checksum: hex.EncodeToString(sum[:]),
			sql:      string(content),
		})
	}
	return set, nil
}

// Up applies every pending migration and returns the versions applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	ledger, err := m.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.verify(ledger); err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range m.set {
		if _, ok := ledger[mig.version]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return applied, err
		}
		applied = append(applied, mig.version)
	}
	return applied, nil
}

// Status reports every embedded migration in order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	ledger, err := m.ledger(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(m.set))
	for _, mig := range m.set {
		s := MigrationStatus{Version: mig.version, Checksum: mig.checksum}
		if row, ok := ledger[mig.version]; ok {
			at := row.AppliedAt
			s.Applied = true
			s.AppliedAt = &at
			s.Duration = time.Duration(row.DurationMs) * time.Millisecond
		}
		out = append(out, s)
	}
	return out, nil
}

// Pending returns the versions not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, s := range statuses {
		if !s.Applied {
			pending = append(pending, s.Version)
		}
	}
	return pending, nil
}

func (m *Migrator) ledger(ctx context.Context) (map[string]ledgerRow, error) {
	appliedAt := "TIMESTAMP"
	if m.db.DriverName() == "postgres" {
		appliedAt = "TIMESTAMP WITHOUT TIME ZONE"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at %s NOT NULL,
		duration_ms BIGINT NOT NULL
	)`, ledgerTable, appliedAt)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", ledgerTable, err)
	}

	var rows []ledgerRow
	if err := m.db.SelectContext(ctx, &rows, "SELECT version, checksum, applied_at, duration_ms FROM "+ledgerTable); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ledgerTable, err)
	}
	ledger := make(map[string]ledgerRow, len(rows))
	for _, r := range rows {
		ledger[r.Version] = r
	}
	return ledger, nil
}

func (m *Migrator) verify(ledger map[string]ledgerRow) error {
	embedded := make(map[string]string, len(m.set))
	for _, mig := range m.set {
		embedded[mig.version] = mig.checksum
	}
	for version, row := range ledger {
		sum, ok := embedded[version]
		if !ok {
			return fmt.Errorf("migration %s is applied but not embedded in this build", version)
		}
		if sum != row.Checksum {
			return fmt.Errorf("checksum mismatch for migration %s: applied %s, embedded %s", version, row.Checksum, sum)
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mig migration) error {
	start := time.Now()
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: %w", mig.version, err)
	}
	defer tx.Rollback()

	// lib/pq runs one statement per Exec.
	for _, stmt := range statements(mig.sql) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s: %w", mig.version, err)
		}
	}
	insert := tx.Rebind("INSERT INTO " + ledgerTable + " (version, checksum, applied_at, duration_ms) VALUES (?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, insert, mig.version, mig.checksum, time.Now().UTC(), time.Since(start).Milliseconds()); err != nil {
		return fmt.Errorf("migration %s: failed to record: %w", mig.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", mig.version, err)
	}
	return nil
}

// statements splits a migration on semicolons after dropping "--" comment
// lines, so a statement preceded by a comment is kept.
func statements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
