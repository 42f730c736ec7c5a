package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsRepeatable(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	_, err := Open(ctx, "sqlite", db)
	require.NoError(t, err)
	_, err = Open(ctx, "sqlite", db)
	require.NoError(t, err, "a second open finds no change")

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM plugmigrate_runs`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpenUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), "oracle", openSQLite(t))
	assert.Error(t, err)
}

func TestRecordAndLatest(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, "sqlite", openSQLite(t))
	require.NoError(t, err)

	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, j.Record(ctx, []Entry{
		{RunID: "r1", Plugin: "blog", Namespace: "blog", Status: "succeeded", Applied: 3, SchemaHash: "h1", RecordedAt: at},
		{RunID: "r1", Plugin: "shop", Namespace: "shop", Status: "failed", Reason: "boom", SchemaHash: "h2", RecordedAt: at},
	}))
	require.NoError(t, j.Record(ctx, []Entry{
		{RunID: "r2", Plugin: "blog", Namespace: "blog", Status: "skipped", Reason: "nothing to do", Skipped: 3, SchemaHash: "h1", RecordedAt: at},
	}))

	latest, err := j.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "blog", latest[0].Plugin)
	assert.Equal(t, "r2", latest[0].RunID)
	assert.Equal(t, "skipped", latest[0].Status)
	assert.Equal(t, 3, latest[0].Skipped)
	assert.True(t, at.Equal(latest[0].RecordedAt))
	assert.Equal(t, "shop", latest[1].Plugin)
	assert.Equal(t, "boom", latest[1].Reason)

	history, err := j.History(ctx, "blog", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "r2", history[0].RunID)
	assert.Equal(t, "r1", history[1].RunID)
}

func TestRebind(t *testing.T) {
	pg := &Journal{dialect: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Journal{dialect: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
