package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/go-sql-driver/mysql"

	"github.com/tordrt/plugmigrate/internal/schema"
)

// MySQLClient manages the connection to MySQL
type MySQLClient struct {
	db *sql.DB
}

// NewMySQLClient creates a new MySQL client, retrying the initial ping
func NewMySQLClient(ctx context.Context, connString string) (*MySQLClient, error) {
	db, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = retry.Do(func() error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		return nil
	}, connectRetryOptions(ctx)...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &MySQLClient{db: db}, nil
}

// Close closes the database connection
func (c *MySQLClient) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *MySQLClient) GetDB() *sql.DB {
	return c.db
}

// MySQLTarget applies plans to MySQL. Namespaces become table name prefixes
// inside the connected database.
type MySQLTarget struct {
	client  *MySQLClient
	dialect MySQLDialect
}

// NewMySQLTarget connects to MySQL
func NewMySQLTarget(ctx context.Context, connString string) (*MySQLTarget, error) {
	client, err := NewMySQLClient(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &MySQLTarget{client: client}, nil
}

func (t *MySQLTarget) Dialect() Dialect { return t.dialect }

// Snapshot reads the catalog of the connected database
func (t *MySQLTarget) Snapshot(ctx context.Context, namespaces []string) (*schema.Snapshot, error) {
	return NewMySQLExtractor(t.client).Snapshot(ctx, namespaces)
}

// Begin starts a transaction. MySQL commits DDL implicitly, so the transaction only
// groups the existence probes; the per operation context bounds each statement.
func (t *MySQLTarget) Begin(ctx context.Context, _ TxOptions) (Tx, error) {
	tx, err := t.client.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

var errLockBusy = errors.New("migration lock held by another session")

// Lock takes a named lock with GET_LOCK on a dedicated connection
func (t *MySQLTarget) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := t.client.GetDB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	name := fmt.Sprintf("plugmigrate_%016x", uint64(hashLockKey(key)))
	err = retry.Do(func() error {
		var got sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 5)", name).Scan(&got); err != nil {
			return retry.Unrecoverable(err)
		}
		if !got.Valid || got.Int64 != 1 {
			return errLockBusy
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", name)
		_ = conn.Close()
	}, nil
}

func (t *MySQLTarget) DB() (*sql.DB, error) { return t.client.GetDB(), nil }

func (t *MySQLTarget) Close(context.Context) error { return t.client.Close() }
