package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/tordrt/plugmigrate/internal/schema"
)

// SQLiteExtractor handles catalog extraction from SQLite
type SQLiteExtractor struct {
	client *SQLiteClient
}

// NewSQLiteExtractor creates a new SQLite catalog extractor
func NewSQLiteExtractor(client *SQLiteClient) *SQLiteExtractor {
	return &SQLiteExtractor{client: client}
}

// Snapshot extracts the tables of the requested namespaces.
// If namespaces is empty, every table is read; unprefixed tables get an empty namespace.
func (e *SQLiteExtractor) Snapshot(ctx context.Context, namespaces []string) (*schema.Snapshot, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`
	tables, err := prefixedTables(ctx, e.client.GetDB(), query, namespaces)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}

	snap := schema.NewSnapshot()
	for q, physical := range tables {
		table, err := e.extractTable(ctx, q, physical)
		if err != nil {
			return nil, fmt.Errorf("failed to extract table %s: %w", physical, err)
		}
		snap.Add(table)
	}

	return snap, nil
}

// extractTable extracts all information for a single table
func (e *SQLiteExtractor) extractTable(ctx context.Context, name schema.QualifiedName, physical string) (*schema.Table, error) {
	table := &schema.Table{Namespace: name.Namespace, Name: name.Name}

	columns, pk, err := e.extractColumns(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	table.Columns = columns
	table.PrimaryKey = pk

	fks, err := e.extractForeignKeys(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract foreign keys: %w", err)
	}
	table.ForeignKeys = fks

	indexes, err := e.extractIndexes(ctx, name.Namespace, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	table.Indexes = indexes

	for _, idx := range indexes {
		if idx.Unique && len(idx.Columns) == 1 && idx.Where == "" {
			for i := range table.Columns {
				if table.Columns[i].Name == idx.Columns[0] {
					table.Columns[i].Unique = true
				}
			}
		}
	}

	checks, err := e.extractChecks(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract check constraints: %w", err)
	}
	table.Checks = checks

	return table, nil
}

// extractColumns extracts column information and primary key order for a table
func (e *SQLiteExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, []string, error) {
	query := `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	pkOrder := make(map[int]string)

	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, nil, err
		}

		col := schema.Column{
			Name:       name,
			NativeType: strings.ToLower(colType),
			Nullable:   notNull == 0 && pk == 0,
		}
		if defaultValue.Valid {
			col.Default = schema.Default{Kind: schema.DefaultExpression, Value: defaultValue.String}
		}
		if pk > 0 {
			pkOrder[pk] = name
		}

		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	pk := make([]string, 0, len(pkOrder))
	for i := 1; i <= len(pkOrder); i++ {
		pk = append(pk, pkOrder[i])
	}
	if len(pk) == 0 {
		pk = nil
	}

	return columns, pk, nil
}

// extractForeignKeys groups pragma_foreign_key_list rows by constraint id.
// SQLite does not keep constraint names, so keys are named fk_<id> and matched by shape.
func (e *SQLiteExtractor) extractForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKey, error) {
	query := `SELECT id, seq, "table", "from", "to", on_delete FROM pragma_foreign_key_list(?) ORDER BY id, seq`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	lastID := -1
	for rows.Next() {
		var id, seq int
		var refTable, from, onDeleteRule string
		var to sql.NullString

		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onDeleteRule); err != nil {
			return nil, err
		}

		if id != lastID {
			ref, _ := schema.SplitPrefixedName(refTable)
			fks = append(fks, schema.ForeignKey{
				Name:     fmt.Sprintf("fk_%d", id),
				RefTable: ref,
				OnDelete: deleteAction(onDeleteRule),
			})
			lastID = id
		}
		fk := &fks[len(fks)-1]
		fk.Columns = append(fk.Columns, from)
		fk.RefColumns = append(fk.RefColumns, to.String)
	}

	return fks, rows.Err()
}

var partialPredicate = regexp.MustCompile(`(?is)\)\s*WHERE\s+(.+)$`)

// extractIndexes extracts explicit indexes; automatic indexes for UNIQUE and PRIMARY KEY are skipped
func (e *SQLiteExtractor) extractIndexes(ctx context.Context, namespace, tableName string) ([]schema.Index, error) {
	query := `
		SELECT il.name, il."unique", COALESCE(m.sql, '')
		FROM pragma_index_list(?) il
		LEFT JOIN sqlite_master m ON m.type = 'index' AND m.name = il.name
		WHERE il.origin = 'c'
		ORDER BY il.name
	`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}

	type indexRow struct {
		name   string
		unique bool
		sql    string
	}
	var found []indexRow
	for rows.Next() {
		var r indexRow
		var unique int
		if err := rows.Scan(&r.name, &unique, &r.sql); err != nil {
			rows.Close()
			return nil, err
		}
		r.unique = unique == 1
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var indexes []schema.Index
	for _, r := range found {
		columns, err := e.indexColumns(ctx, r.name)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			continue
		}
		idx := schema.Index{
			Name:    localName(namespace, r.name),
			Unique:  r.unique,
			Columns: columns,
		}
		if m := partialPredicate.FindStringSubmatch(r.sql); m != nil {
			idx.Where = strings.TrimSpace(m[1])
		}
		indexes = append(indexes, idx)
	}

	return indexes, nil
}

func (e *SQLiteExtractor) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	rows, err := e.client.GetDB().QueryContext(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, indexName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var colName sql.NullString
		if err := rows.Scan(&colName); err != nil {
			return nil, err
		}
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}

	return columns, rows.Err()
}

var checkConstraint = regexp.MustCompile(`(?i)CONSTRAINT\s+("(?:[^"]|"")+"|\w+)\s+CHECK\s*\(`)

// extractChecks reads named CHECK constraints from the table definition
func (e *SQLiteExtractor) extractChecks(ctx context.Context, tableName string) ([]schema.Check, error) {
	var ddl sql.NullString
	err := e.client.GetDB().QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName).Scan(&ddl)
	if err != nil {
		return nil, err
	}
	return parseChecks(ddl.String), nil
}

// parseChecks finds each CONSTRAINT name CHECK (expr) clause, matching parentheses
func parseChecks(ddl string) []schema.Check {
	var checks []schema.Check
	for _, loc := range checkConstraint.FindAllStringSubmatchIndex(ddl, -1) {
		name := ddl[loc[2]:loc[3]]
		if strings.HasPrefix(name, `"`) {
			name = strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
		}

		start := loc[1]
		depth := 1
		end := -1
		inString := false
		for i := start; i < len(ddl) && end < 0; i++ {
			switch c := ddl[i]; {
			case c == '\'':
				inString = !inString
			case inString:
			case c == '(':
				depth++
			case c == ')':
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end < 0 {
			continue
		}
		checks = append(checks, schema.Check{Name: name, Expression: strings.TrimSpace(ddl[start:end])})
	}
	return checks
}
