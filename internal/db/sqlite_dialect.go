package db

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// SQLiteDialect renders operations for SQLite. Tables and indexes are named ns__name.
//
// SQLite cannot add constraints to an existing table, so foreign keys and checks are
// written into CREATE TABLE and only reported unsupported when the table already existed.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) TransactionalDDL() bool { return true }

const sqliteRandomUUID = "(lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-4' || " +
	"substr(hex(randomblob(2)), 2) || '-' || substr('89ab', 1 + (abs(random()) % 4), 1) || " +
	"substr(hex(randomblob(2)), 2) || '-' || hex(randomblob(6))))"

func (SQLiteDialect) table(q schema.QualifiedName) string {
	return pq.QuoteIdentifier(schema.PrefixedName(q))
}

func (SQLiteDialect) columnType(t schema.ColumnType) string {
	return strings.ToUpper(t.String())
}

// defaultValue renders a default. constant is false for defaults ALTER TABLE ADD COLUMN rejects.
func (SQLiteDialect) defaultValue(col schema.Column) (value string, constant bool) {
	switch col.Default.Kind {
	case schema.DefaultNow:
		return "CURRENT_TIMESTAMP", false
	case schema.DefaultRandomUUID:
		return sqliteRandomUUID, false
	case schema.DefaultExpression:
		return "(" + col.Default.Value + ")", false
	}
	return literalValue(col.Type, col.Default.Value, standardQuoteLiteral, "1", "0"), true
}

func (d SQLiteDialect) columnDef(col schema.Column, unique bool) (string, bool) {
	var b strings.Builder
	b.WriteString(pq.QuoteIdentifier(col.Name))
	b.WriteString(" ")
	b.WriteString(d.columnType(col.Type))
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	constant := true
	if !col.Default.IsZero() {
		var v string
		v, constant = d.defaultValue(col)
		b.WriteString(" DEFAULT ")
		b.WriteString(v)
	}
	if unique && col.Unique {
		b.WriteString(" UNIQUE")
	}
	return b.String(), constant
}

func (d SQLiteDialect) references(fk schema.ForeignKey) string {
	return fmt.Sprintf("REFERENCES %s (%s) ON DELETE %s", d.table(fk.RefTable), quoteList(pq.QuoteIdentifier, fk.RefColumns), onDelete(fk.OnDelete))
}

func (d SQLiteDialect) createIndex(t *schema.Table, idx schema.Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX %s ON %s (%s)", pq.QuoteIdentifier(constraintName(t.Namespace, idx.Name)),
		d.table(t.QualifiedName()), quoteList(pq.QuoteIdentifier, idx.Columns))
	if idx.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(idx.Where)
	}
	return b.String()
}

// uniqueColumnIndex names the index backing a unique column added after creation
func uniqueColumnIndex(t *schema.Table, column string) schema.Index {
	return schema.Index{Name: fmt.Sprintf("%s_%s_key", t.Name, column), Columns: []string{column}, Unique: true}
}

// Statements renders op as SQLite DDL
func (d SQLiteDialect) Statements(op plan.Operation) ([]string, error) {
	switch o := op.(type) {
	case plan.CreateTable:
		t := o.Target
		var defs []string
		for _, col := range t.Columns {
			def, _ := d.columnDef(col, true)
			defs = append(defs, def)
		}
		if len(t.PrimaryKey) > 0 {
			defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(pq.QuoteIdentifier, t.PrimaryKey)))
		}
		for _, fk := range t.ForeignKeys {
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) %s", pq.QuoteIdentifier(fk.Name),
				quoteList(pq.QuoteIdentifier, fk.Columns), d.references(fk)))
		}
		for _, check := range t.Checks {
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", pq.QuoteIdentifier(check.Name), check.Expression))
		}

		stmts := []string{fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.table(t.QualifiedName()), strings.Join(defs, ",\n  "))}
		for _, idx := range t.Indexes {
			stmts = append(stmts, d.createIndex(t, idx))
		}
		return stmts, nil

	case plan.AddColumn:
		def, constant := d.columnDef(o.Column, false)
		if !constant {
			return nil, fmt.Errorf("column %s with default %s: %w", o.Column.Name, o.Column.Default, ErrUnsupported)
		}
		for _, fk := range o.Target.ForeignKeys {
			if len(fk.Columns) == 1 && fk.Columns[0] == o.Column.Name {
				def += " " + d.references(fk)
				break
			}
		}
		stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.table(o.Target.QualifiedName()), def)}
		if o.Column.Unique {
			stmts = append(stmts, d.createIndex(o.Target, uniqueColumnIndex(o.Target, o.Column.Name)))
		}
		return stmts, nil

	case plan.CreateIndex:
		return []string{d.createIndex(o.Target, o.Index)}, nil

	case plan.AddForeignKey:
		return nil, fmt.Errorf("foreign key %s on existing table: %w", o.ForeignKey.Name, ErrUnsupported)

	case plan.AddCheckConstraint:
		return nil, fmt.Errorf("check constraint %s on existing table: %w", o.Check.Name, ErrUnsupported)
	}
	return nil, unknownOperation(op)
}

// ExistsQuery probes sqlite_master and the pragma table functions
func (SQLiteDialect) ExistsQuery(op plan.Operation) (string, []any) {
	t := op.Table()
	physical := schema.PrefixedName(t.QualifiedName())
	switch o := op.(type) {
	case plan.CreateTable:
		return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, []any{physical}
	case plan.AddColumn:
		return `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, []any{physical, o.Column.Name}
	case plan.CreateIndex:
		return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND name = ?`,
			[]any{physical, constraintName(t.Namespace, o.Index.Name)}
	case plan.AddForeignKey:
		return sqliteForeignKeyQuery(physical, o.ForeignKey)
	case plan.AddCheckConstraint:
		return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? AND instr(sql, ?) > 0`,
			[]any{physical, "CONSTRAINT " + pq.QuoteIdentifier(o.Check.Name) + " CHECK"}
	}
	return "", nil
}

// sqliteForeignKeyQuery counts the keys of physical that link exactly fk's column pairs,
// in order, to fk's table. pragma_foreign_key_list reports one row per pair, grouped by id.
func sqliteForeignKeyQuery(physical string, fk schema.ForeignKey) (string, []any) {
	args := []any{physical, schema.PrefixedName(fk.RefTable), len(fk.Columns)}
	pairs := make([]string, len(fk.Columns))
	for i := range fk.Columns {
		pairs[i] = `(seq = ? AND "from" = ? AND "to" = ?)`
		args = append(args, i, fk.Columns[i], fk.RefColumns[i])
	}
	args = append(args, len(fk.Columns))
	query := fmt.Sprintf(`SELECT COUNT(*) FROM (
		SELECT id FROM pragma_foreign_key_list(?) WHERE "table" = ?
		GROUP BY id
		HAVING COUNT(*) = ? AND SUM(CASE WHEN %s THEN 1 ELSE 0 END) = ?
	)`, strings.Join(pairs, " OR "))
	return query, args
}

// Compatible follows SQLite type affinity for the declared type names this dialect writes
func (SQLiteDialect) Compatible(declared schema.ColumnType, native string) bool {
	native = strings.ToLower(strings.TrimSpace(native))
	switch declared.Kind {
	case schema.TypeText:
		return strings.Contains(native, "text") || strings.Contains(native, "char") || strings.Contains(native, "clob")
	case schema.TypeInteger, schema.TypeBigInt:
		return strings.Contains(native, "int")
	case schema.TypeNumeric:
		return hasTypePrefix(native, "numeric", "decimal", "real", "double", "float")
	case schema.TypeBoolean:
		return hasTypePrefix(native, "bool")
	case schema.TypeTimestamp:
		if declared.WithTimeZone {
			return native == "timestamptz"
		}
		return native == "timestamp" || native == "datetime"
	case schema.TypeUUID:
		return native == "uuid"
	case schema.TypeJSON:
		return native == "json"
	}
	return false
}
