// Package declare holds the schema declarations plugins hand to the migration engine.
package declare

// PluginSchema is everything one plugin declares. Tables maps a table identifier to its
// declaration; the identifier is the table name unless Name overrides it.
type PluginSchema struct {
	Plugin string               `yaml:"plugin" validate:"required,max=200"`
	Tables map[string]TableDecl `yaml:"tables" validate:"required,min=1,dive,keys,identifier,endkeys"`
}

// TableDecl declares one table
type TableDecl struct {
	Name        string           `yaml:"name,omitempty" validate:"omitempty,identifier"`
	Columns     []ColumnDecl     `yaml:"columns" validate:"required,min=1,dive"`
	PrimaryKey  []string         `yaml:"primaryKey,omitempty" validate:"omitempty,dive,identifier"`
	ForeignKeys []ForeignKeyDecl `yaml:"foreignKeys,omitempty" validate:"omitempty,dive"`
	Indexes     []IndexDecl      `yaml:"indexes,omitempty" validate:"omitempty,dive"`
	Checks      []CheckDecl      `yaml:"checks,omitempty" validate:"omitempty,dive"`
}

// ColumnDecl declares one column. Columns are nullable unless NotNull or PrimaryKey is set.
type ColumnDecl struct {
	Name       string `yaml:"name" validate:"required,identifier"`
	Type       string `yaml:"type" validate:"required"`
	PrimaryKey bool   `yaml:"primaryKey,omitempty"`
	NotNull    bool   `yaml:"notNull,omitempty"`
	Unique     bool   `yaml:"unique,omitempty"`
	// WithTimeZone qualifies a timestamp column; nil leaves it to Type
	WithTimeZone *bool `yaml:"withTimeZone,omitempty"`
	// Default is a literal or one of the generators "now" and "random_uuid"
	Default string `yaml:"default,omitempty"`
	// DefaultExpr is raw SQL and takes precedence over Default
	DefaultExpr string         `yaml:"defaultExpr,omitempty"`
	References  *ReferenceDecl `yaml:"references,omitempty"`
}

// ReferenceDecl is a single column foreign key. Plugin is empty for tables of the declaring plugin.
type ReferenceDecl struct {
	Plugin   string `yaml:"plugin,omitempty"`
	Table    string `yaml:"table" validate:"required,identifier"`
	Column   string `yaml:"column,omitempty" validate:"omitempty,identifier"`
	OnDelete string `yaml:"onDelete,omitempty"`
	Name     string `yaml:"name,omitempty" validate:"omitempty,identifier"`
}

// ForeignKeyDecl is a table level, possibly composite, foreign key
type ForeignKeyDecl struct {
	Name       string   `yaml:"name,omitempty" validate:"omitempty,identifier"`
	Columns    []string `yaml:"columns" validate:"required,min=1,dive,identifier"`
	Plugin     string   `yaml:"plugin,omitempty"`
	Table      string   `yaml:"table" validate:"required,identifier"`
	RefColumns []string `yaml:"references" validate:"required,min=1,dive,identifier"`
	OnDelete   string   `yaml:"onDelete,omitempty"`
}

// IndexDecl declares an index; Where makes it partial
type IndexDecl struct {
	Name    string   `yaml:"name,omitempty" validate:"omitempty,identifier"`
	Columns []string `yaml:"columns" validate:"required,min=1,dive,identifier"`
	Unique  bool     `yaml:"unique,omitempty"`
	Where   string   `yaml:"where,omitempty"`
}

// CheckDecl declares a check constraint
type CheckDecl struct {
	Name       string `yaml:"name,omitempty" validate:"omitempty,identifier"`
	Expression string `yaml:"expression" validate:"required"`
}

// Bool returns a pointer to b, for WithTimeZone
func Bool(b bool) *bool {
	return &b
}
