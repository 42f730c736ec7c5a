package db

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"time"

	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// ErrUnsupported is returned when a dialect cannot express an operation
var ErrUnsupported = errors.New("operation not supported by dialect")

// TxOptions configures a migration transaction
type TxOptions struct {
	// StatementTimeout bounds each statement on the server where the dialect supports it
	StatementTimeout time.Duration
}

// Tx is a transaction that DDL is applied in
type Tx interface {
	Exec(ctx context.Context, stmt string) error
	// Count runs a SELECT COUNT(*) style query
	Count(ctx context.Context, query string, args ...any) (int, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Dialect renders operations and existence probes for one database engine
type Dialect interface {
	Name() string
	// TransactionalDDL reports whether DDL statements roll back with their transaction
	TransactionalDDL() bool
	// Compatible reports whether a live column of the native type can hold the declared type
	Compatible(declared schema.ColumnType, native string) bool
	// Statements renders op as one or more DDL statements
	Statements(op plan.Operation) ([]string, error)
	// ExistsQuery returns a count query that is non-zero when op's object already exists
	ExistsQuery(op plan.Operation) (string, []any)
}

// Target is a live database that plans are applied to
type Target interface {
	Dialect() Dialect
	// Snapshot reads the catalog of the given namespaces; nil reads every user table
	Snapshot(ctx context.Context, namespaces []string) (*schema.Snapshot, error)
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
	// Lock blocks until the named migration lock is held
	Lock(ctx context.Context, key string) (release func(), err error)
	// DB exposes a database/sql handle for bookkeeping tables
	DB() (*sql.DB, error)
	Close(ctx context.Context) error
}

// hashLockKey maps a lock name to a 64 bit advisory lock id
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// sqlTx adapts *sql.Tx
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, stmt string) error {
	_, err := t.tx.ExecContext(ctx, stmt)
	return err
}

func (t *sqlTx) Count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (t *sqlTx) Commit(context.Context) error { return t.tx.Commit() }

func (t *sqlTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
