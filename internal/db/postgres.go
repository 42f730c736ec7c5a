package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/tordrt/plugmigrate/internal/schema"
)

// PostgresClient manages the connection to PostgreSQL
type PostgresClient struct {
	conn *pgx.Conn
}

// NewPostgresClient creates a new PostgreSQL client, retrying the initial connection
func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	var conn *pgx.Conn
	err := retry.Do(func() error {
		c, err := pgx.Connect(ctx, connString)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := c.Ping(ctx); err != nil {
			_ = c.Close(ctx)
			return fmt.Errorf("failed to ping database: %w", err)
		}
		conn = c
		return nil
	}, connectRetryOptions(ctx)...)
	if err != nil {
		return nil, err
	}

	return &PostgresClient{conn: conn}, nil
}

// Close closes the database connection
func (c *PostgresClient) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// GetConnection returns the underlying connection
func (c *PostgresClient) GetConnection() *pgx.Conn {
	return c.conn
}

// PostgresTarget applies plans to PostgreSQL. Each namespace is a schema.
type PostgresTarget struct {
	client  *PostgresClient
	dialect PostgresDialect

	dbOnce sync.Once
	db     *sql.DB
}

// NewPostgresTarget connects to PostgreSQL
func NewPostgresTarget(ctx context.Context, connString string) (*PostgresTarget, error) {
	client, err := NewPostgresClient(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresTarget{client: client}, nil
}

func (t *PostgresTarget) Dialect() Dialect { return t.dialect }

// Snapshot reads the catalog of the given schemas
func (t *PostgresTarget) Snapshot(ctx context.Context, namespaces []string) (*schema.Snapshot, error) {
	return NewPostgresExtractor(t.client).Snapshot(ctx, namespaces)
}

// Begin starts a transaction, bounding every statement when opts.StatementTimeout is set
func (t *PostgresTarget) Begin(ctx context.Context, opts TxOptions) (Tx, error) {
	tx, err := t.client.GetConnection().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if opts.StatementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.StatementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("failed to set statement timeout: %w", err)
		}
	}
	return &pgTx{tx: tx}, nil
}

// Lock takes a session level advisory lock
func (t *PostgresTarget) Lock(ctx context.Context, key string) (func(), error) {
	id := hashLockKey(key)
	if _, err := t.client.GetConnection().Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = t.client.GetConnection().Exec(ctx, "SELECT pg_advisory_unlock($1)", id)
	}, nil
}

// DB opens a database/sql handle sharing the connection settings
func (t *PostgresTarget) DB() (*sql.DB, error) {
	t.dbOnce.Do(func() {
		t.db = stdlib.OpenDB(*t.client.GetConnection().Config())
	})
	return t.db, nil
}

func (t *PostgresTarget) Close(ctx context.Context) error {
	if t.db != nil {
		_ = t.db.Close()
	}
	return t.client.Close(ctx)
}

// pgTx adapts pgx.Tx
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, stmt string) error {
	_, err := t.tx.Exec(ctx, stmt)
	return err
}

func (t *pgTx) Count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (t *pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// connectRetryOptions retries transient connection failures with backoff
func connectRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
}

// IsTimeout reports whether err is a statement timeout or an expired deadline
func IsTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57014" {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
