package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/plugmigrate/internal/errdefs"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// nativeTypes treats a live column as compatible when its native type names the logical kind
type nativeTypes struct{}

func (nativeTypes) Compatible(declared schema.ColumnType, native string) bool {
	return strings.HasPrefix(native, string(declared.Kind))
}

func col(name string, kind schema.TypeKind) schema.Column {
	return schema.Column{Name: name, Type: schema.ColumnType{Kind: kind}, Nullable: true}
}

func authorsTable() *schema.Table {
	return &schema.Table{
		Namespace:  "blog",
		Name:       "authors",
		Plugin:     "blog",
		Columns:    []schema.Column{col("id", schema.TypeUUID), col("name", schema.TypeText)},
		PrimaryKey: []string{"id"},
	}
}

func postsTable() *schema.Table {
	return &schema.Table{
		Namespace:  "blog",
		Name:       "posts",
		Plugin:     "blog",
		Columns:    []schema.Column{col("id", schema.TypeUUID), col("author_id", schema.TypeUUID), col("title", schema.TypeText)},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Name:       "posts_author_id_fkey",
			Columns:    []string{"author_id"},
			RefTable:   schema.QualifiedName{Namespace: "blog", Name: "authors"},
			RefColumns: []string{"id"},
			OnDelete:   schema.OnDeleteNoAction,
		}},
	}
}

// liveCopy returns the table as the catalog would report it after creation
func liveCopy(t *schema.Table) *schema.Table {
	live := *t
	live.Columns = nil
	for _, c := range t.Columns {
		c.NativeType = string(c.Type.Kind)
		live.Columns = append(live.Columns, c)
	}
	return &live
}

func opStrings(ops []Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.String())
	}
	return out
}

func newPlanner() *Planner {
	return New(nativeTypes{}, zerolog.Nop())
}

func TestPlanBlogAgainstEmptyDatabase(t *testing.T) {
	p := newPlanner().Plan([]*schema.Table{authorsTable(), postsTable()}, schema.NewSnapshot())

	assert.Equal(t, []string{
		"CreateTable(blog.authors)",
		"CreateTable(blog.posts)",
		"AddForeignKey(blog.posts.author_id->blog.authors.id)",
	}, opStrings(p.Operations))
	assert.Equal(t, []string{"blog"}, p.Plugins)
	assert.Empty(t, p.Failures)
	assert.Equal(t, "blog", p.Owners[schema.QualifiedName{Namespace: "blog", Name: "posts"}])
}

func TestPlanAgainstPopulatedDatabaseIsEmpty(t *testing.T) {
	live := schema.NewSnapshot()
	live.Add(liveCopy(authorsTable()))
	live.Add(liveCopy(postsTable()))

	p := newPlanner().Plan([]*schema.Table{authorsTable(), postsTable()}, live)
	assert.True(t, p.Empty(), "got %v", opStrings(p.Operations))
	assert.Empty(t, p.Failures)
}

func TestPlanAddedColumnOnly(t *testing.T) {
	live := schema.NewSnapshot()
	live.Add(liveCopy(authorsTable()))
	live.Add(liveCopy(postsTable()))

	authors := authorsTable()
	authors.Columns = append(authors.Columns, col("bio", schema.TypeText))

	p := newPlanner().Plan([]*schema.Table{authors, postsTable()}, live)
	assert.Equal(t, []string{"AddColumn(blog.authors.bio)"}, opStrings(p.Operations))
}

func TestPlanNeverDrops(t *testing.T) {
	liveAuthors := liveCopy(authorsTable())
	liveAuthors.Columns = append(liveAuthors.Columns, schema.Column{Name: "legacy", NativeType: "text"})
	liveAuthors.Indexes = []schema.Index{{Name: "authors_legacy_idx", Columns: []string{"legacy"}}}
	live := schema.NewSnapshot()
	live.Add(liveAuthors)
	live.Add(&schema.Table{Namespace: "blog", Name: "retired"})

	p := newPlanner().Plan([]*schema.Table{authorsTable()}, live)
	assert.True(t, p.Empty())
	for _, op := range p.Operations {
		switch op.(type) {
		case CreateTable, AddColumn, CreateIndex, AddForeignKey, AddCheckConstraint:
		default:
			t.Fatalf("unexpected operation %T", op)
		}
	}
}

func TestPlanIndexesAndChecksOnExistingTable(t *testing.T) {
	live := schema.NewSnapshot()
	liveAuthors := liveCopy(authorsTable())
	liveAuthors.Indexes = []schema.Index{{Name: "authors_name_idx", Columns: []string{"name"}}}
	live.Add(liveAuthors)

	authors := authorsTable()
	authors.Indexes = []schema.Index{
		{Name: "authors_name_idx", Columns: []string{"name"}},
		{Name: "authors_name_lower_idx", Columns: []string{"name"}, Unique: true},
	}
	authors.Checks = []schema.Check{{Name: "authors_name_check", Expression: "length(name) > 0"}}

	p := newPlanner().Plan([]*schema.Table{authors}, live)
	assert.Equal(t, []string{
		"CreateIndex(blog.authors.authors_name_lower_idx)",
		"AddCheckConstraint(blog.authors.authors_name_check)",
	}, opStrings(p.Operations))
}

func TestPlanForeignKeysTrailAllStructuralOperations(t *testing.T) {
	users := &schema.Table{Namespace: "users", Name: "accounts", Plugin: "users", Columns: []schema.Column{col("id", schema.TypeUUID)}}
	comments := &schema.Table{
		Namespace: "social",
		Name:      "comments",
		Plugin:    "social",
		Columns:   []schema.Column{col("id", schema.TypeUUID), col("post_id", schema.TypeUUID), col("account_id", schema.TypeUUID)},
		ForeignKeys: []schema.ForeignKey{
			{Name: "comments_post_id_fkey", Columns: []string{"post_id"}, RefTable: schema.QualifiedName{Namespace: "blog", Name: "posts"}, RefColumns: []string{"id"}},
			{Name: "comments_account_id_fkey", Columns: []string{"account_id"}, RefTable: schema.QualifiedName{Namespace: "users", Name: "accounts"}, RefColumns: []string{"id"}},
		},
	}

	p := newPlanner().Plan([]*schema.Table{authorsTable(), postsTable(), users, comments}, schema.NewSnapshot())
	ops := p.Operations
	require.Len(t, ops, 7)

	lastStructural, firstDeferred := -1, len(ops)
	for i, op := range ops {
		if IsDeferred(op) {
			firstDeferred = min(firstDeferred, i)
		} else {
			lastStructural = i
		}
	}
	assert.Less(t, lastStructural, firstDeferred)
	assert.Equal(t, []string{"blog", "users", "social"}, p.Plugins)
	assert.Len(t, p.ForPlugin("social"), 3)
}

func TestPlanCycleTolerance(t *testing.T) {
	a := &schema.Table{Namespace: "x", Name: "a", Plugin: "x", Columns: []schema.Column{col("id", schema.TypeInteger), col("b_id", schema.TypeInteger)}}
	b := &schema.Table{Namespace: "x", Name: "b", Plugin: "x", Columns: []schema.Column{col("id", schema.TypeInteger), col("a_id", schema.TypeInteger)}}
	a.ForeignKeys = []schema.ForeignKey{{Name: "a_b_id_fkey", Columns: []string{"b_id"}, RefTable: b.QualifiedName(), RefColumns: []string{"id"}}}
	b.ForeignKeys = []schema.ForeignKey{{Name: "b_a_id_fkey", Columns: []string{"a_id"}, RefTable: a.QualifiedName(), RefColumns: []string{"id"}}}

	p := newPlanner().Plan([]*schema.Table{a, b}, schema.NewSnapshot())
	assert.Empty(t, p.Failures)
	assert.Equal(t, []string{
		"CreateTable(x.a)",
		"CreateTable(x.b)",
		"AddForeignKey(x.a.b_id->x.b.id)",
		"AddForeignKey(x.b.a_id->x.a.id)",
	}, opStrings(p.Operations))
}

func TestPlanConflictIsolatesPlugin(t *testing.T) {
	live := schema.NewSnapshot()
	liveAuthors := liveCopy(authorsTable())
	liveAuthors.Columns[0].NativeType = "integer"
	live.Add(liveAuthors)

	authors := authorsTable()
	authors.Columns = append(authors.Columns, col("bio", schema.TypeText))
	other := &schema.Table{Namespace: "shop", Name: "orders", Plugin: "shop", Columns: []schema.Column{col("id", schema.TypeBigInt)}}

	p := newPlanner().Plan([]*schema.Table{authors, postsTable(), other}, live)

	require.Contains(t, p.Failures, "blog")
	var conflict *errdefs.SchemaConflictError
	require.True(t, errors.As(p.Failures["blog"], &conflict))
	assert.Equal(t, "id", conflict.Column)
	assert.Equal(t, "uuid", conflict.DeclaredType)
	assert.Equal(t, "integer", conflict.ExistingType)

	assert.Empty(t, p.ForPlugin("blog"), "a conflicting plugin keeps no operations")
	assert.Equal(t, []string{"CreateTable(shop.orders)"}, opStrings(p.Operations))
	assert.NotContains(t, p.Failures, "shop")
}

func TestPlanUnknownReference(t *testing.T) {
	posts := postsTable()
	posts.ForeignKeys[0].RefTable = schema.QualifiedName{Namespace: "blog", Name: "writers"}

	p := newPlanner().Plan([]*schema.Table{authorsTable(), posts}, schema.NewSnapshot())
	require.Contains(t, p.Failures, "blog")
	assert.ErrorIs(t, p.Failures["blog"], errdefs.ErrSchemaParse)
	assert.ErrorContains(t, p.Failures["blog"], "unknown table blog.writers")
	assert.True(t, p.Empty())
}

func TestPlanReferenceToLiveTable(t *testing.T) {
	live := schema.NewSnapshot()
	live.Add(liveCopy(authorsTable()))

	p := newPlanner().Plan([]*schema.Table{postsTable()}, live)
	assert.Empty(t, p.Failures)
	assert.Equal(t, []string{
		"CreateTable(blog.posts)",
		"AddForeignKey(blog.posts.author_id->blog.authors.id)",
	}, opStrings(p.Operations))

	posts := postsTable()
	posts.ForeignKeys[0].RefColumns = []string{"uuid"}
	p = newPlanner().Plan([]*schema.Table{posts}, live)
	assert.ErrorContains(t, p.Failures["blog"], "unknown columns")
}

func TestPlanExistingForeignKeyMatchedByShape(t *testing.T) {
	live := schema.NewSnapshot()
	live.Add(liveCopy(authorsTable()))
	livePosts := liveCopy(postsTable())
	livePosts.ForeignKeys[0].Name = "fk_0"
	live.Add(livePosts)

	p := newPlanner().Plan([]*schema.Table{authorsTable(), postsTable()}, live)
	assert.True(t, p.Empty())
}

func TestPlanFail(t *testing.T) {
	p := newPlanner().Plan([]*schema.Table{authorsTable(), postsTable()}, schema.NewSnapshot())
	p.Fail("blog", errors.New("first"))
	p.Fail("blog", errors.New("second"))
	p.Fail("late", errors.New("parse"))

	assert.True(t, p.Empty())
	assert.ErrorContains(t, p.Failures["blog"], "first")
	assert.ErrorContains(t, p.Failures["blog"], "second")
	assert.Equal(t, []string{"blog", "late"}, p.Plugins)
}
