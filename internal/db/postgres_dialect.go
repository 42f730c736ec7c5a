package db

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// PostgresDialect renders operations for PostgreSQL. Namespaces are schemas.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) TransactionalDDL() bool { return true }

func (PostgresDialect) qualified(q schema.QualifiedName) string {
	if q.Namespace == "" {
		return pq.QuoteIdentifier(q.Name)
	}
	return pq.QuoteIdentifier(q.Namespace) + "." + pq.QuoteIdentifier(q.Name)
}

func (PostgresDialect) columnType(t schema.ColumnType) string {
	switch t.Kind {
	case schema.TypeJSON:
		return "jsonb"
	default:
		return t.String()
	}
}

func (d PostgresDialect) defaultValue(col schema.Column) string {
	switch col.Default.Kind {
	case schema.DefaultNow:
		return "now()"
	case schema.DefaultRandomUUID:
		return "gen_random_uuid()"
	case schema.DefaultExpression:
		return col.Default.Value
	default:
		return literalValue(col.Type, col.Default.Value, pq.QuoteLiteral, "true", "false")
	}
}

func (d PostgresDialect) columnDef(col schema.Column) string {
	var b strings.Builder
	b.WriteString(pq.QuoteIdentifier(col.Name))
	b.WriteString(" ")
	b.WriteString(d.columnType(col.Type))
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

func (d PostgresDialect) createIndex(t *schema.Table, idx schema.Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX %s ON %s (%s)", pq.QuoteIdentifier(idx.Name), d.qualified(t.QualifiedName()),
		quoteList(pq.QuoteIdentifier, idx.Columns))
	if idx.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(idx.Where)
	}
	return b.String()
}

// Statements renders op as PostgreSQL DDL
func (d PostgresDialect) Statements(op plan.Operation) ([]string, error) {
	switch o := op.(type) {
	case plan.CreateTable:
		t := o.Target
		var defs []string
		for _, col := range t.Columns {
			defs = append(defs, d.columnDef(col))
		}
		if len(t.PrimaryKey) > 0 {
			defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(pq.QuoteIdentifier, t.PrimaryKey)))
		}
		for _, check := range t.Checks {
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", pq.QuoteIdentifier(check.Name), check.Expression))
		}

		stmts := make([]string, 0, 2+len(t.Indexes))
		if t.Namespace != "" {
			stmts = append(stmts, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(t.Namespace))
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.qualified(t.QualifiedName()), strings.Join(defs, ",\n  ")))
		for _, idx := range t.Indexes {
			stmts = append(stmts, d.createIndex(t, idx))
		}
		return stmts, nil

	case plan.AddColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.qualified(o.Target.QualifiedName()), d.columnDef(o.Column))}, nil

	case plan.CreateIndex:
		return []string{d.createIndex(o.Target, o.Index)}, nil

	case plan.AddForeignKey:
		fk := o.ForeignKey
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
			d.qualified(o.Target.QualifiedName()), pq.QuoteIdentifier(fk.Name), quoteList(pq.QuoteIdentifier, fk.Columns),
			d.qualified(fk.RefTable), quoteList(pq.QuoteIdentifier, fk.RefColumns), onDelete(fk.OnDelete))}, nil

	case plan.AddCheckConstraint:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)",
			d.qualified(o.Target.QualifiedName()), pq.QuoteIdentifier(o.Check.Name), o.Check.Expression)}, nil
	}
	return nil, unknownOperation(op)
}

// ExistsQuery probes the catalog for the object op would create
func (PostgresDialect) ExistsQuery(op plan.Operation) (string, []any) {
	t := op.Table()
	switch o := op.(type) {
	case plan.CreateTable:
		return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
			[]any{t.Namespace, t.Name}
	case plan.AddColumn:
		return `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`,
			[]any{t.Namespace, t.Name, o.Column.Name}
	case plan.CreateIndex:
		return `SELECT COUNT(*) FROM pg_indexes WHERE schemaname = $1 AND tablename = $2 AND indexname = $3`,
			[]any{t.Namespace, t.Name, o.Index.Name}
	case plan.AddForeignKey:
		return postgresConstraintQuery, []any{t.Namespace, t.Name, o.ForeignKey.Name, "f"}
	case plan.AddCheckConstraint:
		return postgresConstraintQuery, []any{t.Namespace, t.Name, o.Check.Name, "c"}
	}
	return "", nil
}

const postgresConstraintQuery = `
	SELECT COUNT(*)
	FROM pg_constraint con
	JOIN pg_class t ON t.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	WHERE n.nspname = $1 AND t.relname = $2 AND con.conname = $3 AND con.contype::text = $4
`

// Compatible reports whether a live PostgreSQL column can hold the declared type without conversion
func (PostgresDialect) Compatible(declared schema.ColumnType, native string) bool {
	native = strings.ToLower(strings.TrimSpace(native))
	switch declared.Kind {
	case schema.TypeText:
		return native == "text" || hasTypePrefix(native, varcharType, "char")
	case schema.TypeInteger:
		return native == "integer" || native == "bigint"
	case schema.TypeBigInt:
		return native == "bigint"
	case schema.TypeNumeric:
		return hasTypePrefix(native, "numeric")
	case schema.TypeBoolean:
		return native == "boolean"
	case schema.TypeTimestamp:
		if declared.WithTimeZone {
			return native == "timestamptz"
		}
		return native == "timestamp"
	case schema.TypeUUID:
		return native == "uuid"
	case schema.TypeJSON:
		return native == "json" || native == "jsonb"
	}
	return false
}

// onDelete renders a referential action; an empty action is NO ACTION
func onDelete(a schema.OnDeleteAction) string {
	if a == "" {
		return string(schema.OnDeleteNoAction)
	}
	return string(a)
}
