package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

func newSQLiteTarget(t *testing.T) *SQLiteTarget {
	t.Helper()
	target, err := NewSQLiteTarget(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Close(context.Background()) })
	return target
}

func applyOps(t *testing.T, target Target, ops ...plan.Operation) {
	t.Helper()
	ctx := context.Background()
	tx, err := target.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	for _, op := range ops {
		stmts, err := target.Dialect().Statements(op)
		require.NoError(t, err)
		for _, stmt := range stmts {
			require.NoError(t, tx.Exec(ctx, stmt), stmt)
		}
	}
	require.NoError(t, tx.Commit(ctx))
}

func probe(t *testing.T, target Target, op plan.Operation) int {
	t.Helper()
	ctx := context.Background()
	tx, err := target.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	query, args := target.Dialect().ExistsQuery(op)
	n, err := tx.Count(ctx, query, args...)
	require.NoError(t, err)
	return n
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	target := newSQLiteTarget(t)
	authors, posts := testAuthors(), testPosts()
	applyOps(t, target, plan.CreateTable{Target: authors}, plan.CreateTable{Target: posts})

	snap, err := target.Snapshot(context.Background(), []string{"blog"})
	require.NoError(t, err)
	require.Len(t, snap.Tables, 2)

	liveAuthors := snap.Table(authors.QualifiedName())
	require.NotNil(t, liveAuthors)
	assert.Equal(t, []string{"id"}, liveAuthors.PrimaryKey)
	col, ok := liveAuthors.Column("created_at")
	require.True(t, ok)
	assert.Equal(t, "timestamptz", col.NativeType)
	assert.False(t, col.Nullable)

	idx, ok := liveAuthors.Index("authors_name_idx")
	require.True(t, ok, "index names lose their namespace prefix")
	assert.Equal(t, []string{"name"}, idx.Columns)

	check, ok := liveAuthors.Check("authors_email_check")
	require.True(t, ok)
	assert.Equal(t, "length(email) > 3", check.Expression)

	livePosts := snap.Table(posts.QualifiedName())
	require.NotNil(t, livePosts)
	require.Len(t, livePosts.ForeignKeys, 1)
	assert.True(t, livePosts.HasForeignKey(posts.ForeignKeys[0]))
	assert.Equal(t, schema.OnDeleteCascade, livePosts.ForeignKeys[0].OnDelete)

	partial, ok := livePosts.Index("posts_published_idx")
	require.True(t, ok)
	assert.Equal(t, "price > 0", partial.Where)

	price, _ := livePosts.Column("price")
	assert.True(t, SQLiteDialect{}.Compatible(posts.Columns[2].Type, price.NativeType))
}

func TestSQLiteSnapshotFiltersNamespaces(t *testing.T) {
	target := newSQLiteTarget(t)
	other := &schema.Table{Namespace: "shop", Name: "orders", Plugin: "shop",
		Columns: []schema.Column{{Name: "id", Type: schema.ColumnType{Kind: schema.TypeBigInt}}}}
	applyOps(t, target, plan.CreateTable{Target: testAuthors()}, plan.CreateTable{Target: other})

	snap, err := target.Snapshot(context.Background(), []string{"shop"})
	require.NoError(t, err)
	assert.Len(t, snap.Tables, 1)
	assert.NotNil(t, snap.Table(other.QualifiedName()))

	all, err := target.Snapshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all.Tables, 2)
}

func TestSQLiteExistsQueries(t *testing.T) {
	target := newSQLiteTarget(t)
	authors, posts := testAuthors(), testPosts()

	assert.Equal(t, 0, probe(t, target, plan.CreateTable{Target: authors}))
	applyOps(t, target, plan.CreateTable{Target: authors}, plan.CreateTable{Target: posts})

	tests := []struct {
		name string
		op   plan.Operation
		want int
	}{
		{"table", plan.CreateTable{Target: authors}, 1},
		{"column", plan.AddColumn{Target: authors, Column: authors.Columns[1]}, 1},
		{"missing column", plan.AddColumn{Target: authors, Column: schema.Column{Name: "bio"}}, 0},
		{"index", plan.CreateIndex{Target: authors, Index: authors.Indexes[0]}, 1},
		{"missing index", plan.CreateIndex{Target: authors, Index: schema.Index{Name: "nope"}}, 0},
		{"foreign key", plan.AddForeignKey{Target: posts, ForeignKey: posts.ForeignKeys[0]}, 1},
		{"check", plan.AddCheckConstraint{Target: authors, Check: authors.Checks[0]}, 1},
		{"missing check", plan.AddCheckConstraint{Target: authors, Check: schema.Check{Name: "other_check"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probe(t, target, tt.op))
		})
	}
}

func TestSQLiteCompositeForeignKeyExists(t *testing.T) {
	target := newSQLiteTarget(t)
	integer := schema.ColumnType{Kind: schema.TypeInteger}

	regions := &schema.Table{
		Namespace:  "geo",
		Name:       "regions",
		Columns:    []schema.Column{{Name: "country", Type: integer}, {Name: "code", Type: integer}},
		PrimaryKey: []string{"country", "code"},
	}
	key := schema.ForeignKey{
		Name:       "stores_region_fkey",
		Columns:    []string{"region_country", "region_code"},
		RefTable:   regions.QualifiedName(),
		RefColumns: []string{"country", "code"},
		OnDelete:   schema.OnDeleteNoAction,
	}
	stores := &schema.Table{
		Namespace: "geo",
		Name:      "stores",
		Columns: []schema.Column{
			{Name: "id", Type: integer},
			{Name: "region_country", Type: integer, Nullable: true},
			{Name: "region_code", Type: integer, Nullable: true},
			{Name: "other_code", Type: integer, Nullable: true},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []schema.ForeignKey{key},
	}
	applyOps(t, target, plan.CreateTable{Target: regions}, plan.CreateTable{Target: stores})

	firstPairOnly := key
	firstPairOnly.Columns = []string{"region_country", "other_code"}
	singleColumn := key
	singleColumn.Columns = []string{"region_country"}
	singleColumn.RefColumns = []string{"country"}

	tests := []struct {
		name string
		fk   schema.ForeignKey
		want int
	}{
		{"every pair matches", key, 1},
		{"only the first pair matches", firstPairOnly, 0},
		{"prefix of a composite key", singleColumn, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probe(t, target, plan.AddForeignKey{Target: stores, ForeignKey: tt.fk}))
		})
	}
}

func TestSQLiteAddUniqueColumn(t *testing.T) {
	target := newSQLiteTarget(t)
	posts := testPosts()
	applyOps(t, target, plan.CreateTable{Target: posts})

	slug := schema.Column{Name: "slug", Type: schema.ColumnType{Kind: schema.TypeText}, Nullable: true, Unique: true}
	applyOps(t, target, plan.AddColumn{Target: posts, Column: slug})

	snap, err := target.Snapshot(context.Background(), nil)
	require.NoError(t, err)
	col, ok := snap.Table(posts.QualifiedName()).Column("slug")
	require.True(t, ok)
	assert.True(t, col.Unique)
}

func TestSQLiteLock(t *testing.T) {
	target := newSQLiteTarget(t)

	release, err := target.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = target.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := target.Lock(context.Background(), "k")
	require.NoError(t, err)
	release2()
}

func TestParseChecks(t *testing.T) {
	ddl := `CREATE TABLE "x" (
  "a" INTEGER,
  CONSTRAINT "a_positive" CHECK (a > 0 AND (a < 10)),
  CONSTRAINT plain CHECK (a <> ')')
)`
	assert.Equal(t, []schema.Check{
		{Name: "a_positive", Expression: "a > 0 AND (a < 10)"},
		{Name: "plain", Expression: "a <> ')'"},
	}, parseChecks(ddl))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=1&_busy_timeout=5000", sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_foreign_keys=1&_busy_timeout=5000", sqliteDSN("file:a.db?mode=rwc"))
	assert.Equal(t, "a.db?_fk=0&_busy_timeout=5000", sqliteDSN("a.db?_fk=0"))
}
