package plan

import (
	"fmt"
	"strings"

	"github.com/tordrt/plugmigrate/internal/schema"
)

// Kind tags an operation variant
type Kind string

const (
	KindCreateTable        Kind = "create_table"
	KindAddColumn          Kind = "add_column"
	KindCreateIndex        Kind = "create_index"
	KindAddForeignKey      Kind = "add_foreign_key"
	KindAddCheckConstraint Kind = "add_check_constraint"
)

// Operation is one additive schema change against a desired table
type Operation interface {
	Kind() Kind
	// Table is the desired table the operation belongs to
	Table() *schema.Table
	String() string
}

// CreateTable creates a table with its columns, primary key, unique columns,
// indexes and checks. Foreign keys are added separately.
type CreateTable struct {
	Target *schema.Table
}

func (o CreateTable) Kind() Kind           { return KindCreateTable }
func (o CreateTable) Table() *schema.Table { return o.Target }
func (o CreateTable) String() string {
	return fmt.Sprintf("CreateTable(%s)", o.Target.QualifiedName())
}

// AddColumn adds a missing column to an existing table
type AddColumn struct {
	Target *schema.Table
	Column schema.Column
}

func (o AddColumn) Kind() Kind           { return KindAddColumn }
func (o AddColumn) Table() *schema.Table { return o.Target }
func (o AddColumn) String() string {
	return fmt.Sprintf("AddColumn(%s.%s)", o.Target.QualifiedName(), o.Column.Name)
}

// CreateIndex adds a missing index to an existing table
type CreateIndex struct {
	Target *schema.Table
	Index  schema.Index
}

func (o CreateIndex) Kind() Kind           { return KindCreateIndex }
func (o CreateIndex) Table() *schema.Table { return o.Target }
func (o CreateIndex) String() string {
	return fmt.Sprintf("CreateIndex(%s.%s)", o.Target.QualifiedName(), o.Index.Name)
}

// AddForeignKey adds a foreign key once every referenced table exists
type AddForeignKey struct {
	Target     *schema.Table
	ForeignKey schema.ForeignKey
}

func (o AddForeignKey) Kind() Kind           { return KindAddForeignKey }
func (o AddForeignKey) Table() *schema.Table { return o.Target }
func (o AddForeignKey) String() string {
	fk := o.ForeignKey
	return fmt.Sprintf("AddForeignKey(%s.%s->%s.%s)", o.Target.QualifiedName(), strings.Join(fk.Columns, ","),
		fk.RefTable, strings.Join(fk.RefColumns, ","))
}

// AddCheckConstraint adds a missing check constraint to an existing table
type AddCheckConstraint struct {
	Target *schema.Table
	Check  schema.Check
}

func (o AddCheckConstraint) Kind() Kind           { return KindAddCheckConstraint }
func (o AddCheckConstraint) Table() *schema.Table { return o.Target }
func (o AddCheckConstraint) String() string {
	return fmt.Sprintf("AddCheckConstraint(%s.%s)", o.Target.QualifiedName(), o.Check.Name)
}

// IsDeferred reports whether op runs in the trailing foreign key phase
func IsDeferred(op Operation) bool {
	return op.Kind() == KindAddForeignKey
}
