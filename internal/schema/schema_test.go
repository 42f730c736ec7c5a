package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceFor(t *testing.T) {
	tests := []struct {
		name     string
		pluginID string
		want     string
		prefix   string
	}{
		{name: "canonical id maps to itself", pluginID: "blog", want: "blog"},
		{name: "underscores kept", pluginID: "blog_v2", want: "blog_v2"},
		{name: "scoped package id", pluginID: "@elizaos/plugin-sql", prefix: "elizaos_plugin_sql_"},
		{name: "uppercase is lossy", pluginID: "Blog", prefix: "blog_"},
		{name: "leading digit", pluginID: "42things", prefix: "p_42things_"},
		{name: "no usable characters", pluginID: "@@@", prefix: "plugin_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NamespaceFor(tt.pluginID)
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
			} else {
				assert.True(t, strings.HasPrefix(got, tt.prefix), "got %q", got)
				assert.Len(t, got, len(tt.prefix)+suffixLength)
			}
			assert.Equal(t, got, NamespaceFor(tt.pluginID), "derivation must be deterministic")
			assert.NotContains(t, got, prefixSeparator)
		})
	}
}

func TestNamespaceForCollisions(t *testing.T) {
	ids := []string{"blog", "Blog", "BLOG", "blog-", "-blog", "b.log", "b-log", "b_log"}
	seen := make(map[string]string)
	for _, id := range ids {
		ns := NamespaceFor(id)
		if other, dup := seen[ns]; dup {
			t.Fatalf("plugins %q and %q share namespace %q", other, id, ns)
		}
		seen[ns] = id
	}
}

func TestNamespaceForLongID(t *testing.T) {
	id := strings.Repeat("very-long-plugin-name-", 5)
	ns := NamespaceFor(id)
	assert.LessOrEqual(t, len(ns), MaxNamespaceLength)
	assert.NotEqual(t, ns, NamespaceFor(id+"x"))
}

func TestShortenName(t *testing.T) {
	long := "customer_subscription_billing_events_subscription_reference_id_idx"
	tests := []struct {
		name  string
		input string
		limit int
	}{
		{"fits", "posts_author_id_idx", MaxIdentifierLength},
		{"identifier limit", long, MaxIdentifierLength},
		{"namespace budget", long, NameBudget("billing")},
		{"longest namespace", long, NameBudget(strings.Repeat("n", MaxNamespaceLength))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShortenName(tt.input, tt.limit)
			assert.LessOrEqual(t, len(got), tt.limit)
			assert.Equal(t, got, ShortenName(tt.input, tt.limit), "stable across runs")
			if len(tt.input) <= tt.limit {
				assert.Equal(t, tt.input, got)
			}
		})
	}

	a := ShortenName(long+"_a", 40)
	b := ShortenName(long+"_b", 40)
	assert.NotEqual(t, a, b)
}

func TestNameBudget(t *testing.T) {
	assert.Equal(t, MaxIdentifierLength, NameBudget(""))
	assert.Equal(t, 54, NameBudget("billing"))

	ns := strings.Repeat("n", MaxNamespaceLength)
	name := strings.Repeat("t", NameBudget(ns))
	assert.Len(t, PrefixedName(QualifiedName{Namespace: ns, Name: name}), MaxIdentifierLength)
}

func TestPrefixedName(t *testing.T) {
	q := QualifiedName{Namespace: "blog", Name: "post_tags"}
	physical := PrefixedName(q)
	assert.Equal(t, "blog__post_tags", physical)

	back, ok := SplitPrefixedName(physical)
	require.True(t, ok)
	assert.Equal(t, q, back)

	_, ok = SplitPrefixedName("users")
	assert.False(t, ok)
}

func TestParseColumnType(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name     string
		declared string
		tz       *bool
		want     ColumnType
		wantErr  bool
	}{
		{name: "text", declared: "text", want: ColumnType{Kind: TypeText}},
		{name: "alias int", declared: "INT", want: ColumnType{Kind: TypeInteger}},
		{name: "numeric with scale", declared: "numeric(10, 2)", want: ColumnType{Kind: TypeNumeric, Precision: 10, Scale: 2}},
		{name: "decimal without scale", declared: "decimal(8)", want: ColumnType{Kind: TypeNumeric, Precision: 8}},
		{name: "timestamptz", declared: "timestamptz", want: ColumnType{Kind: TypeTimestamp, WithTimeZone: true}},
		{name: "timestamp flag", declared: "timestamp", tz: &yes, want: ColumnType{Kind: TypeTimestamp, WithTimeZone: true}},
		{name: "jsonb", declared: "jsonb", want: ColumnType{Kind: TypeJSON}},
		{name: "unknown type", declared: "geometry", wantErr: true},
		{name: "empty type", declared: " ", wantErr: true},
		{name: "scale above precision", declared: "numeric(2,5)", wantErr: true},
		{name: "zero precision", declared: "numeric(0)", wantErr: true},
		{name: "params on text", declared: "text(10)", wantErr: true},
		{name: "unterminated params", declared: "numeric(10,2", wantErr: true},
		{name: "timezone flag on text", declared: "text", tz: &yes, wantErr: true},
		{name: "timestamptz contradicts flag", declared: "timestamptz", tz: &no, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseColumnType(tt.declared, tt.tz)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnTypeString(t *testing.T) {
	assert.Equal(t, "numeric(10,2)", ColumnType{Kind: TypeNumeric, Precision: 10, Scale: 2}.String())
	assert.Equal(t, "numeric", ColumnType{Kind: TypeNumeric}.String())
	assert.Equal(t, "timestamptz", ColumnType{Kind: TypeTimestamp, WithTimeZone: true}.String())
	assert.Equal(t, "uuid", ColumnType{Kind: TypeUUID}.String())
}

func TestParseDefault(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		typ      ColumnType
		want     Default
		wantErr  bool
	}{
		{name: "none", declared: "", typ: ColumnType{Kind: TypeText}, want: Default{}},
		{name: "now", declared: "now", typ: ColumnType{Kind: TypeTimestamp}, want: Default{Kind: DefaultNow}},
		{name: "random uuid", declared: "random_uuid", typ: ColumnType{Kind: TypeUUID}, want: Default{Kind: DefaultRandomUUID}},
		{name: "text literal", declared: "draft", typ: ColumnType{Kind: TypeText}, want: Default{Kind: DefaultLiteral, Value: "draft"}},
		{name: "integer literal", declared: "0", typ: ColumnType{Kind: TypeInteger}, want: Default{Kind: DefaultLiteral, Value: "0"}},
		{name: "now on text", declared: "now", typ: ColumnType{Kind: TypeText}, wantErr: true},
		{name: "uuid generator on integer", declared: "random_uuid", typ: ColumnType{Kind: TypeInteger}, wantErr: true},
		{name: "bad integer", declared: "ten", typ: ColumnType{Kind: TypeBigInt}, wantErr: true},
		{name: "bad boolean", declared: "maybe", typ: ColumnType{Kind: TypeBoolean}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDefault(tt.declared, tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOnDelete(t *testing.T) {
	for input, want := range map[string]OnDeleteAction{
		"":          OnDeleteNoAction,
		"no-action": OnDeleteNoAction,
		"CASCADE":   OnDeleteCascade,
		"set-null":  OnDeleteSetNull,
		"set_null":  OnDeleteSetNull,
		"restrict":  OnDeleteRestrict,
	} {
		got, err := ParseOnDelete(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseOnDelete("explode")
	assert.Error(t, err)
}

func TestTableDependencies(t *testing.T) {
	authors := QualifiedName{Namespace: "blog", Name: "authors"}
	posts := QualifiedName{Namespace: "blog", Name: "posts"}
	table := &Table{
		Namespace: "blog",
		Name:      "posts",
		ForeignKeys: []ForeignKey{
			{Name: "posts_author_id_fkey", Columns: []string{"author_id"}, RefTable: authors, RefColumns: []string{"id"}},
			{Name: "posts_editor_id_fkey", Columns: []string{"editor_id"}, RefTable: authors, RefColumns: []string{"id"}},
			{Name: "posts_parent_id_fkey", Columns: []string{"parent_id"}, RefTable: posts, RefColumns: []string{"id"}},
		},
	}

	assert.Equal(t, []QualifiedName{authors, posts}, table.Dependencies())
}

func TestTableHasForeignKey(t *testing.T) {
	authors := QualifiedName{Namespace: "blog", Name: "authors"}
	live := &Table{
		ForeignKeys: []ForeignKey{
			{Name: "fk_1", Columns: []string{"author_id"}, RefTable: authors, RefColumns: []string{"id"}},
		},
	}

	assert.True(t, live.HasForeignKey(ForeignKey{Name: "fk_1"}))
	assert.True(t, live.HasForeignKey(ForeignKey{Name: "posts_author_id_fkey", Columns: []string{"author_id"}, RefTable: authors, RefColumns: []string{"id"}}))
	assert.False(t, live.HasForeignKey(ForeignKey{Name: "posts_editor_id_fkey", Columns: []string{"editor_id"}, RefTable: authors, RefColumns: []string{"id"}}))
}

func TestSnapshotSorted(t *testing.T) {
	s := NewSnapshot()
	s.Add(&Table{Namespace: "b", Name: "a"})
	s.Add(&Table{Namespace: "a", Name: "z"})
	s.Add(&Table{Namespace: "a", Name: "b"})

	var got []string
	for _, table := range s.Sorted() {
		got = append(got, table.QualifiedName().String())
	}
	assert.Equal(t, []string{"a.b", "a.z", "b.a"}, got)
	assert.Nil(t, s.Table(QualifiedName{Namespace: "c", Name: "c"}))
}
