// Package journal records the outcome of every plugin in every run inside the target database.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationsTable tracks the journal's own schema version
const MigrationsTable = "plugmigrate_schema_migrations"

// Entry is one plugin outcome of one run
type Entry struct {
	RunID      string
	Plugin     string
	Namespace  string
	Status     string
	Reason     string
	Applied    int
	Skipped    int
	SchemaHash string
	RecordedAt time.Time
}

// Journal reads and writes the plugmigrate_runs table
type Journal struct {
	db      *sql.DB
	dialect string
}

// Open brings the journal table up to date and returns a journal on db.
// dialect is "postgres", "mysql" or "sqlite". Open once per db: on PostgreSQL every
// call holds one more pooled connection.
func Open(ctx context.Context, dialect string, db *sql.DB) (*Journal, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case "postgres":
		// The pgx driver pins one connection of db until the pool closes
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		conn, connErr := db.Conn(ctx)
		if connErr != nil {
			return nil, fmt.Errorf("failed to reserve journal connection: %w", connErr)
		}
		defer conn.Close()
		driver, err = migratemysql.WithConnection(ctx, conn, &migratemysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, fmt.Errorf("unsupported journal dialect: %s", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	// m.Close would close db, which belongs to the caller
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Journal{db: db, dialect: dialect}, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (j *Journal) rebind(query string) string {
	if j.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record stores the entries of one run atomically
func (j *Journal) Record(ctx context.Context, entries []Entry) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := j.rebind(`
		INSERT INTO plugmigrate_runs
			(run_id, plugin, namespace, status, reason, applied, skipped, schema_hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, e := range entries {
		recorded := e.RecordedAt
		if recorded.IsZero() {
			recorded = time.Now()
		}
		if _, err := tx.ExecContext(ctx, query, e.RunID, e.Plugin, e.Namespace, e.Status, e.Reason,
			e.Applied, e.Skipped, e.SchemaHash, recorded.UnixMilli()); err != nil {
			return fmt.Errorf("failed to record plugin %s: %w", e.Plugin, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal: %w", err)
	}
	return nil
}

// Latest returns the most recent entry of every plugin, ordered by plugin id
func (j *Journal) Latest(ctx context.Context) ([]Entry, error) {
	return j.query(ctx, `
		SELECT r.run_id, r.plugin, r.namespace, r.status, r.reason, r.applied, r.skipped, r.schema_hash, r.recorded_at
		FROM plugmigrate_runs r
		WHERE r.id = (SELECT MAX(x.id) FROM plugmigrate_runs x WHERE x.plugin = r.plugin)
		ORDER BY r.plugin
	`)
}

// History returns the entries of one plugin, newest first
func (j *Journal) History(ctx context.Context, plugin string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return j.query(ctx, `
		SELECT run_id, plugin, namespace, status, reason, applied, skipped, schema_hash, recorded_at
		FROM plugmigrate_runs
		WHERE plugin = ?
		ORDER BY id DESC
		LIMIT ?
	`, plugin, limit)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recorded int64
		if err := rows.Scan(&e.RunID, &e.Plugin, &e.Namespace, &e.Status, &e.Reason, &e.Applied, &e.Skipped, &e.SchemaHash, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.RecordedAt = time.UnixMilli(recorded)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
