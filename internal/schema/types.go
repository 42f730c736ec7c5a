package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// QualifiedName identifies a table across all plugins
type QualifiedName struct {
	Namespace string
	Name      string
}

// String renders the name as namespace.name
func (q QualifiedName) String() string {
	if q.Namespace == "" {
		return q.Name
	}
	return q.Namespace + "." + q.Name
}

// Less orders qualified names by (namespace, name)
func (q QualifiedName) Less(other QualifiedName) bool {
	if q.Namespace != other.Namespace {
		return q.Namespace < other.Namespace
	}
	return q.Name < other.Name
}

// SortNames sorts qualified names in place by (namespace, name)
func SortNames(names []QualifiedName) {
	sort.Slice(names, func(i, j int) bool { return names[i].Less(names[j]) })
}

// Column represents a table column
type Column struct {
	Name string
	Type ColumnType
	// NativeType is the type as reported by the database catalog. Empty for declared columns.
	NativeType string
	Nullable   bool
	Default    Default
	Unique     bool
}

// TypeString returns the native type when known, the logical type otherwise
func (c Column) TypeString() string {
	if c.NativeType != "" {
		return c.NativeType
	}
	return c.Type.String()
}

// OnDeleteAction is the referential action taken when a referenced row is deleted
type OnDeleteAction string

const (
	OnDeleteNoAction OnDeleteAction = "NO ACTION"
	OnDeleteCascade  OnDeleteAction = "CASCADE"
	OnDeleteSetNull  OnDeleteAction = "SET NULL"
	OnDeleteRestrict OnDeleteAction = "RESTRICT"
)

// ParseOnDelete accepts the declared spellings of an on-delete policy.
// An empty string means no action.
func ParseOnDelete(s string) (OnDeleteAction, error) {
	normalized := strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch normalized {
	case "", "no action", "noaction":
		return OnDeleteNoAction, nil
	case "cascade":
		return OnDeleteCascade, nil
	case "set null", "setnull":
		return OnDeleteSetNull, nil
	case "restrict":
		return OnDeleteRestrict, nil
	default:
		return "", fmt.Errorf("unknown on-delete policy %q", s)
	}
}

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   QualifiedName
	RefColumns []string
	OnDelete   OnDeleteAction
}

// String renders the key as table.cols->ref.cols
func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s->%s.%s", strings.Join(fk.Columns, ","), fk.RefTable, strings.Join(fk.RefColumns, ","))
}

// SameShape reports whether two keys link the same columns to the same target
func (fk ForeignKey) SameShape(other ForeignKey) bool {
	return fk.RefTable == other.RefTable &&
		slices.Equal(fk.Columns, other.Columns) &&
		slices.Equal(fk.RefColumns, other.RefColumns)
}

// Index represents a table index
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	// Where holds the predicate of a partial index
	Where string
}

// Check represents a check constraint
type Check struct {
	Name       string
	Expression string
}

// Table represents a database table
type Table struct {
	Namespace   string
	Name        string
	Plugin      string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
	Checks      []Check
}

// QualifiedName returns the table identity
func (t *Table) QualifiedName() QualifiedName {
	return QualifiedName{Namespace: t.Namespace, Name: t.Name}
}

// Column looks up a column by name
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// HasColumns reports whether every named column exists
func (t *Table) HasColumns(names []string) bool {
	for _, name := range names {
		if _, ok := t.Column(name); !ok {
			return false
		}
	}
	return true
}

// Index looks up an index by name
func (t *Table) Index(name string) (*Index, bool) {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i], true
		}
	}
	return nil, false
}

// Check looks up a check constraint by name
func (t *Table) Check(name string) (*Check, bool) {
	for i := range t.Checks {
		if t.Checks[i].Name == name {
			return &t.Checks[i], true
		}
	}
	return nil, false
}

// HasForeignKey reports whether the table carries fk, matched by name or by shape
func (t *Table) HasForeignKey(fk ForeignKey) bool {
	for _, existing := range t.ForeignKeys {
		if existing.Name != "" && existing.Name == fk.Name {
			return true
		}
		if existing.SameShape(fk) {
			return true
		}
	}
	return false
}

// Dependencies returns the distinct tables referenced by foreign keys, sorted.
// A self-reference is included.
func (t *Table) Dependencies() []QualifiedName {
	seen := make(map[QualifiedName]bool)
	var deps []QualifiedName
	for _, fk := range t.ForeignKeys {
		if seen[fk.RefTable] {
			continue
		}
		seen[fk.RefTable] = true
		deps = append(deps, fk.RefTable)
	}
	SortNames(deps)
	return deps
}

// Snapshot is a read of the live catalog
type Snapshot struct {
	Tables  map[QualifiedName]*Table
	TakenAt time.Time
}

// NewSnapshot creates an empty snapshot stamped with the current time
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Tables:  make(map[QualifiedName]*Table),
		TakenAt: time.Now(),
	}
}

// Add stores a table, replacing any table with the same identity
func (s *Snapshot) Add(t *Table) {
	s.Tables[t.QualifiedName()] = t
}

// Table looks up a live table; nil when absent
func (s *Snapshot) Table(q QualifiedName) *Table {
	if s == nil {
		return nil
	}
	return s.Tables[q]
}

// Sorted returns the tables ordered by (namespace, name)
func (s *Snapshot) Sorted() []*Table {
	tables := make([]*Table, 0, len(s.Tables))
	for _, t := range s.Tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].QualifiedName().Less(tables[j].QualifiedName())
	})
	return tables
}
