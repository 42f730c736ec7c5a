//go:build integration
// +build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/tordrt/plugmigrate"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// blogSchema declares authors and posts, with a self-contained foreign key
func blogSchema() plugmigrate.PluginSchema {
	return plugmigrate.PluginSchema{
		Plugin: "it_blog",
		Tables: map[string]plugmigrate.TableDecl{
			"authors": {
				Columns: []plugmigrate.ColumnDecl{
					{Name: "id", Type: "uuid", PrimaryKey: true, Default: "random_uuid"},
					{Name: "email", Type: "text", NotNull: true, Unique: true},
					{Name: "created_at", Type: "timestamp", WithTimeZone: plugmigrate.Bool(true), Default: "now"},
				},
				Checks: []plugmigrate.CheckDecl{{Name: "authors_email_check", Expression: "length(email) > 3"}},
			},
			"posts": {
				Columns: []plugmigrate.ColumnDecl{
					{Name: "id", Type: "uuid", PrimaryKey: true},
					{Name: "author_id", Type: "uuid", References: &plugmigrate.ReferenceDecl{Table: "authors", Column: "id", OnDelete: "cascade"}},
					{Name: "title", Type: "text", NotNull: true},
					{Name: "published", Type: "boolean", Default: "false"},
				},
				Indexes: []plugmigrate.IndexDecl{{Name: "posts_author_idx", Columns: []string{"author_id"}}},
			},
		},
	}
}

// shopSchema references the blog plugin's authors
func shopSchema() plugmigrate.PluginSchema {
	return plugmigrate.PluginSchema{
		Plugin: "it_shop",
		Tables: map[string]plugmigrate.TableDecl{
			"orders": {
				Columns: []plugmigrate.ColumnDecl{
					{Name: "id", Type: "bigint", PrimaryKey: true},
					{Name: "buyer_id", Type: "uuid", References: &plugmigrate.ReferenceDecl{Plugin: "it_blog", Table: "authors", Column: "id"}},
					{Name: "total", Type: "numeric(10,2)", NotNull: true, Default: "0"},
					{Name: "meta", Type: "json"},
				},
			},
		},
	}
}

var namespaces = []string{"it_blog", "it_shop"}

// runScenario applies, re-applies and evolves the fixtures against target.
// The target must not contain the fixture namespaces yet.
func runScenario(t *testing.T, target plugmigrate.Target) {
	t.Helper()
	ctx := context.Background()
	m := plugmigrate.NewMigrator(target, nil)

	report, err := m.Apply(ctx, []plugmigrate.PluginSchema{shopSchema(), blogSchema()})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	verifyStatus(t, report, "it_blog", plugmigrate.StatusSucceeded)
	verifyStatus(t, report, "it_shop", plugmigrate.StatusSucceeded)

	s, err := target.Snapshot(ctx, namespaces)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	verifyTablesExist(t, s, []string{"it_blog.authors", "it_blog.posts", "it_shop.orders"})

	authors := findTable(s, "it_blog", "authors")
	verifyPrimaryKey(t, authors, []string{"id"})
	verifyColumns(t, authors, []string{"id", "email", "created_at"})
	verifyCheck(t, authors, "authors_email_check")
	verifyForeignKey(t, findTable(s, "it_blog", "posts"), "author_id", "it_blog", "authors")
	verifyForeignKey(t, findTable(s, "it_shop", "orders"), "buyer_id", "it_blog", "authors")
	verifyIndex(t, findTable(s, "it_blog", "posts"), "posts_author_idx", []string{"author_id"})

	// A second run finds everything in place
	p, err := m.Plan(ctx, []plugmigrate.PluginSchema{shopSchema(), blogSchema()})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !p.Empty() {
		t.Errorf("Expected an empty plan after apply, got %v", p.Operations)
	}
	report, err = m.Apply(ctx, []plugmigrate.PluginSchema{shopSchema(), blogSchema()})
	if err != nil {
		t.Fatalf("Second apply failed: %v", err)
	}
	verifyStatus(t, report, "it_blog", plugmigrate.StatusSkipped)
	verifyStatus(t, report, "it_shop", plugmigrate.StatusSkipped)

	// New nullable column and an index over an existing text column
	evolved := blogSchema()
	posts := evolved.Tables["posts"]
	posts.Columns = append(posts.Columns, plugmigrate.ColumnDecl{Name: "subtitle", Type: "text"})
	posts.Indexes = append(posts.Indexes, plugmigrate.IndexDecl{Name: "posts_title_idx", Columns: []string{"title"}})
	evolved.Tables["posts"] = posts
	report, err = m.Apply(ctx, []plugmigrate.PluginSchema{evolved, shopSchema()})
	if err != nil {
		t.Fatalf("Evolved apply failed: %v", err)
	}
	verifyStatus(t, report, "it_blog", plugmigrate.StatusSucceeded)

	s, err = target.Snapshot(ctx, namespaces)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	verifyColumns(t, findTable(s, "it_blog", "posts"), []string{"subtitle"})
	verifyIndex(t, findTable(s, "it_blog", "posts"), "posts_title_idx", []string{"title"})

	p, err = m.Plan(ctx, []plugmigrate.PluginSchema{evolved, shopSchema()})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !p.Empty() {
		t.Errorf("Expected an empty plan after the evolved apply, got %v", p.Operations)
	}

	sqlDB, err := target.DB()
	if err != nil {
		t.Fatalf("Failed to open database handle: %v", err)
	}
	inUse := sqlDB.Stats().InUse

	entries, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.History(ctx, "it_blog", 5); err != nil {
			t.Fatalf("History failed: %v", err)
		}
	}
	if got := sqlDB.Stats().InUse; got != inUse {
		t.Errorf("Expected %d connections in use after journal reads, got %d", inUse, got)
	}
	for _, e := range entries {
		if e.Plugin == "it_blog" && e.Status != string(plugmigrate.StatusSucceeded) {
			t.Errorf("Expected latest it_blog run to succeed, got %s", e.Status)
		}
	}
}

// runConcurrent starts two migrators on separate connections; the lock serializes them
func runConcurrent(t *testing.T, open func() plugmigrate.Target) {
	t.Helper()
	ctx := context.Background()

	reports := make([]*plugmigrate.Report, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := open()
			defer func() { _ = target.Close(ctx) }()
			reports[i], errs[i] = plugmigrate.NewMigrator(target, nil).Apply(ctx, []plugmigrate.PluginSchema{blogSchema()})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Concurrent apply %d failed: %v", i, err)
		}
		o := reports[i].Result.Plugin("it_blog")
		if o == nil {
			t.Fatalf("No outcome for it_blog in run %d", i)
		}
		switch o.Status {
		case plugmigrate.StatusSucceeded:
			succeeded++
		case plugmigrate.StatusSkipped:
		default:
			t.Errorf("Run %d failed: %s", i, o.Reason)
		}
	}
	if succeeded != 1 {
		t.Errorf("Expected exactly one run to create the tables, got %d", succeeded)
	}
}

func verifyStatus(t *testing.T, r *plugmigrate.Report, plugin string, want plugmigrate.Status) {
	t.Helper()
	o := r.Result.Plugin(plugin)
	if o == nil {
		t.Fatalf("No outcome for plugin %s", plugin)
	}
	if o.Status != want {
		t.Errorf("Expected %s to be %s, got %s (%s)", plugin, want, o.Status, o.Reason)
	}
}

// verifyTablesExist checks that all expected tables are present in the snapshot
func verifyTablesExist(t *testing.T, s *schema.Snapshot, expectedTables []string) {
	t.Helper()

	if len(s.Tables) != len(expectedTables) {
		t.Errorf("Expected %d tables, got %d", len(expectedTables), len(s.Tables))
	}

	tableMap := make(map[string]bool)
	for q := range s.Tables {
		tableMap[q.String()] = true
	}

	for _, tableName := range expectedTables {
		if !tableMap[tableName] {
			t.Errorf("Expected table %s not found in snapshot", tableName)
		}
	}
}

// verifyColumns checks that expected columns exist in a table
func verifyColumns(t *testing.T, table *schema.Table, expectedColumns []string) {
	t.Helper()

	for _, colName := range expectedColumns {
		if _, ok := table.Column(colName); !ok {
			t.Errorf("Expected column %s not found in %s table", colName, table.Name)
		}
	}
}

// verifyPrimaryKey checks that a table has the expected primary key
func verifyPrimaryKey(t *testing.T, table *schema.Table, expectedPK []string) {
	t.Helper()

	if len(table.PrimaryKey) != len(expectedPK) {
		t.Errorf("Expected primary key %v, got %v", expectedPK, table.PrimaryKey)
		return
	}

	for i, pk := range expectedPK {
		if table.PrimaryKey[i] != pk {
			t.Errorf("Expected primary key %v, got %v", expectedPK, table.PrimaryKey)
			return
		}
	}
}

// verifyForeignKey checks that a foreign key from sourceColumn to the target table exists
func verifyForeignKey(t *testing.T, table *schema.Table, sourceColumn, targetNamespace, targetTable string) {
	t.Helper()

	want := schema.QualifiedName{Namespace: targetNamespace, Name: targetTable}
	for _, fk := range table.ForeignKeys {
		if fk.RefTable == want && len(fk.Columns) == 1 && fk.Columns[0] == sourceColumn {
			return
		}
	}

	t.Errorf("Expected foreign key from %s.%s to %s not found", table.Name, sourceColumn, want)
}

// verifyIndex checks that an index exists with the expected columns
func verifyIndex(t *testing.T, table *schema.Table, indexName string, expectedColumns []string) {
	t.Helper()

	idx, ok := table.Index(indexName)
	if !ok {
		t.Errorf("Expected index %s on %s table not found", indexName, table.Name)
		return
	}
	if len(idx.Columns) != len(expectedColumns) {
		t.Errorf("Expected index %s on %v, got %v", indexName, expectedColumns, idx.Columns)
		return
	}
	for i, col := range expectedColumns {
		if idx.Columns[i] != col {
			t.Errorf("Expected index %s on %v, got %v", indexName, expectedColumns, idx.Columns)
			return
		}
	}
}

// verifyCheck checks that a named check constraint exists
func verifyCheck(t *testing.T, table *schema.Table, name string) {
	t.Helper()

	if _, ok := table.Check(name); !ok {
		t.Errorf("Expected check %s on %s table not found", name, table.Name)
	}
}

// findTable is a helper function to find a table in the snapshot
func findTable(s *schema.Snapshot, namespace, name string) *schema.Table {
	table := s.Table(schema.QualifiedName{Namespace: namespace, Name: name})
	if table == nil {
		return &schema.Table{Namespace: namespace, Name: name}
	}
	return table
}
