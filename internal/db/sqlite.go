package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tordrt/plugmigrate/internal/schema"
)

// SQLiteClient manages the connection to SQLite
type SQLiteClient struct {
	db *sql.DB
}

// NewSQLiteClient creates a new SQLite client with foreign keys enforced
func NewSQLiteClient(ctx context.Context, path string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps schema changes and probes serialized
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// sqliteDSN turns on foreign key enforcement and a busy timeout unless the caller set them
func sqliteDSN(path string) string {
	var params []string
	if !strings.Contains(path, "_foreign_keys") && !strings.Contains(path, "_fk=") {
		params = append(params, "_foreign_keys=1")
	}
	if !strings.Contains(path, "_busy_timeout") && !strings.Contains(path, "_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// Close closes the database connection
func (c *SQLiteClient) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *SQLiteClient) GetDB() *sql.DB {
	return c.db
}

// SQLiteTarget applies plans to a SQLite file. Namespaces become table and index name prefixes.
type SQLiteTarget struct {
	client  *SQLiteClient
	dialect SQLiteDialect
	lock    chan struct{}
}

// NewSQLiteTarget opens the database file at path
func NewSQLiteTarget(ctx context.Context, path string) (*SQLiteTarget, error) {
	client, err := NewSQLiteClient(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteTarget{client: client, lock: make(chan struct{}, 1)}, nil
}

func (t *SQLiteTarget) Dialect() Dialect { return t.dialect }

// Snapshot reads the catalog of the database file
func (t *SQLiteTarget) Snapshot(ctx context.Context, namespaces []string) (*schema.Snapshot, error) {
	return NewSQLiteExtractor(t.client).Snapshot(ctx, namespaces)
}

// Begin starts a transaction. Statements are bounded by the caller's context.
func (t *SQLiteTarget) Begin(ctx context.Context, _ TxOptions) (Tx, error) {
	tx, err := t.client.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Lock serializes runs within this process. SQLite's file lock covers other processes.
func (t *SQLiteTarget) Lock(ctx context.Context, _ string) (func(), error) {
	select {
	case t.lock <- struct{}{}:
		return func() { <-t.lock }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire migration lock: %w", ctx.Err())
	}
}

func (t *SQLiteTarget) DB() (*sql.DB, error) { return t.client.GetDB(), nil }

func (t *SQLiteTarget) Close(context.Context) error { return t.client.Close() }
