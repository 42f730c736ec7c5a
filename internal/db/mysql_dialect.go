package db

import (
	"fmt"
	"strings"

	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// MySQLDialect renders operations for MySQL 8. Tables are named ns__table, and foreign
// key and check names carry the same prefix because MySQL scopes them to the database.
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

// TransactionalDDL is false: every DDL statement commits implicitly
func (MySQLDialect) TransactionalDDL() bool { return false }

func mysqlQuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func mysqlQuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (MySQLDialect) table(q schema.QualifiedName) string {
	return mysqlQuoteIdentifier(schema.PrefixedName(q))
}

// constraintName scopes a constraint name to the table's namespace
func constraintName(namespace, name string) string {
	return schema.PrefixedName(schema.QualifiedName{Namespace: namespace, Name: name})
}

// mysqlTextKeyLength is the varchar length of keyed text columns and the prefix
// length of text key parts
const mysqlTextKeyLength = 255

func (MySQLDialect) columnType(t schema.ColumnType, keyed bool) string {
	switch t.Kind {
	case schema.TypeText:
		if keyed {
			return fmt.Sprintf("varchar(%d)", mysqlTextKeyLength)
		}
		return "text"
	case schema.TypeInteger:
		return "int"
	case schema.TypeBigInt:
		return "bigint"
	case schema.TypeNumeric:
		if t.Precision > 0 {
			return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
		}
		return "decimal(65,30)"
	case schema.TypeBoolean:
		return "tinyint(1)"
	case schema.TypeTimestamp:
		if t.WithTimeZone {
			return "timestamp(6)"
		}
		return "datetime(6)"
	case schema.TypeUUID:
		return "char(36)"
	case schema.TypeJSON:
		return "json"
	}
	return string(t.Kind)
}

func (MySQLDialect) defaultValue(col schema.Column) string {
	switch col.Default.Kind {
	case schema.DefaultNow:
		return "CURRENT_TIMESTAMP(6)"
	case schema.DefaultRandomUUID:
		return "(uuid())"
	case schema.DefaultExpression:
		return col.Default.Value
	}
	v := literalValue(col.Type, col.Default.Value, mysqlQuoteLiteral, "1", "0")
	if col.Type.Kind == schema.TypeText || col.Type.Kind == schema.TypeJSON {
		// TEXT and JSON columns only accept expression defaults
		return "(" + v + ")"
	}
	return v
}

func (d MySQLDialect) columnDef(col schema.Column, keyed bool) string {
	var b strings.Builder
	b.WriteString(mysqlQuoteIdentifier(col.Name))
	b.WriteString(" ")
	b.WriteString(d.columnType(col.Type, keyed))
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if !col.Default.IsZero() {
		b.WriteString(" DEFAULT ")
		b.WriteString(d.defaultValue(col))
	}
	if col.Unique {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

func indexKeyword(idx schema.Index) string {
	if idx.Unique {
		return "UNIQUE INDEX"
	}
	return "INDEX"
}

// keyParts lists the columns of an index added to an existing table. Text columns carry
// a prefix length because the live column may be TEXT.
func keyParts(t *schema.Table, columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, name := range columns {
		part := mysqlQuoteIdentifier(name)
		if col, ok := t.Column(name); ok && col.Type.Kind == schema.TypeText {
			part += fmt.Sprintf("(%d)", mysqlTextKeyLength)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// Statements renders op as MySQL DDL
func (d MySQLDialect) Statements(op plan.Operation) ([]string, error) {
	switch o := op.(type) {
	case plan.CreateTable:
		t := o.Target
		keyed := keyedColumns(t)
		var defs []string
		for _, col := range t.Columns {
			defs = append(defs, d.columnDef(col, keyed[col.Name]))
		}
		if len(t.PrimaryKey) > 0 {
			defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(mysqlQuoteIdentifier, t.PrimaryKey)))
		}
		for _, idx := range t.Indexes {
			if idx.Where != "" {
				return nil, fmt.Errorf("partial index %s: %w", idx.Name, ErrUnsupported)
			}
			defs = append(defs, fmt.Sprintf("%s %s (%s)", indexKeyword(idx), mysqlQuoteIdentifier(idx.Name), quoteList(mysqlQuoteIdentifier, idx.Columns)))
		}
		for _, check := range t.Checks {
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", mysqlQuoteIdentifier(constraintName(t.Namespace, check.Name)), check.Expression))
		}
		return []string{fmt.Sprintf("CREATE TABLE %s (\n  %s\n) ENGINE=InnoDB", d.table(t.QualifiedName()), strings.Join(defs, ",\n  "))}, nil

	case plan.AddColumn:
		keyed := keyedColumns(o.Target)
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.table(o.Target.QualifiedName()), d.columnDef(o.Column, keyed[o.Column.Name]))}, nil

	case plan.CreateIndex:
		if o.Index.Where != "" {
			return nil, fmt.Errorf("partial index %s: %w", o.Index.Name, ErrUnsupported)
		}
		return []string{fmt.Sprintf("CREATE %s %s ON %s (%s)", indexKeyword(o.Index), mysqlQuoteIdentifier(o.Index.Name),
			d.table(o.Target.QualifiedName()), keyParts(o.Target, o.Index.Columns))}, nil

	case plan.AddForeignKey:
		fk := o.ForeignKey
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
			d.table(o.Target.QualifiedName()), mysqlQuoteIdentifier(constraintName(o.Target.Namespace, fk.Name)),
			quoteList(mysqlQuoteIdentifier, fk.Columns), d.table(fk.RefTable), quoteList(mysqlQuoteIdentifier, fk.RefColumns),
			onDelete(fk.OnDelete))}, nil

	case plan.AddCheckConstraint:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)", d.table(o.Target.QualifiedName()),
			mysqlQuoteIdentifier(constraintName(o.Target.Namespace, o.Check.Name)), o.Check.Expression)}, nil
	}
	return nil, unknownOperation(op)
}

// ExistsQuery probes information_schema of the connected database
func (MySQLDialect) ExistsQuery(op plan.Operation) (string, []any) {
	t := op.Table()
	physical := schema.PrefixedName(t.QualifiedName())
	switch o := op.(type) {
	case plan.CreateTable:
		return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`,
			[]any{physical}
	case plan.AddColumn:
		return `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`,
			[]any{physical, o.Column.Name}
	case plan.CreateIndex:
		return `SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
			[]any{physical, o.Index.Name}
	case plan.AddForeignKey:
		return mysqlConstraintQuery, []any{physical, constraintName(t.Namespace, o.ForeignKey.Name), "FOREIGN KEY"}
	case plan.AddCheckConstraint:
		return mysqlConstraintQuery, []any{physical, constraintName(t.Namespace, o.Check.Name), "CHECK"}
	}
	return "", nil
}

const mysqlConstraintQuery = `
	SELECT COUNT(*)
	FROM information_schema.table_constraints
	WHERE table_schema = DATABASE() AND table_name = ? AND constraint_name = ? AND constraint_type = ?
`

// Compatible reports whether a live MySQL column can hold the declared type
func (MySQLDialect) Compatible(declared schema.ColumnType, native string) bool {
	native = strings.ToLower(strings.TrimSpace(native))
	switch declared.Kind {
	case schema.TypeText:
		return hasTypePrefix(native, varcharType, "char", "text", "tinytext", "mediumtext", "longtext")
	case schema.TypeInteger:
		return hasTypePrefix(native, "int", "bigint")
	case schema.TypeBigInt:
		return hasTypePrefix(native, "bigint")
	case schema.TypeNumeric:
		return hasTypePrefix(native, "decimal", "numeric")
	case schema.TypeBoolean:
		return native == "tinyint(1)" || native == "bool" || native == "boolean"
	case schema.TypeTimestamp:
		if declared.WithTimeZone {
			return hasTypePrefix(native, "timestamp")
		}
		return hasTypePrefix(native, "datetime")
	case schema.TypeUUID:
		return native == "char(36)" || native == "varchar(36)" || native == "binary(16)"
	case schema.TypeJSON:
		return native == "json"
	}
	return false
}
