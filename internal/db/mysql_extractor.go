package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/plugmigrate/internal/schema"
)

// MySQLExtractor handles catalog extraction from MySQL
type MySQLExtractor struct {
	client *MySQLClient
}

// NewMySQLExtractor creates a new MySQL catalog extractor
func NewMySQLExtractor(client *MySQLClient) *MySQLExtractor {
	return &MySQLExtractor{client: client}
}

// Snapshot extracts the tables of the requested namespaces from the connected database.
// If namespaces is empty, every table is read; unprefixed tables get an empty namespace.
func (e *MySQLExtractor) Snapshot(ctx context.Context, namespaces []string) (*schema.Snapshot, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name
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
func (e *MySQLExtractor) extractTable(ctx context.Context, name schema.QualifiedName, physical string) (*schema.Table, error) {
	table := &schema.Table{Namespace: name.Namespace, Name: name.Name}

	columns, err := e.extractColumns(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	table.Columns = columns

	pk, err := e.extractPrimaryKey(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract primary key: %w", err)
	}
	table.PrimaryKey = pk

	fks, err := e.extractForeignKeys(ctx, name.Namespace, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract foreign keys: %w", err)
	}
	table.ForeignKeys = fks

	indexes, err := e.extractIndexes(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	table.Indexes = indexes

	checks, err := e.extractChecks(ctx, name.Namespace, physical)
	if err != nil {
		return nil, fmt.Errorf("failed to extract check constraints: %w", err)
	}
	table.Checks = checks

	return table, nil
}

// extractColumns extracts column information for a table
func (e *MySQLExtractor) extractColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.column_type,
			c.is_nullable,
			c.column_default,
			CASE WHEN EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
					AND tc.table_name = kcu.table_name
				WHERE tc.table_schema = DATABASE()
					AND tc.table_name = ?
					AND tc.constraint_type = 'UNIQUE'
					AND kcu.column_name = c.column_name
			) THEN 1 ELSE 0 END AS is_unique
		FROM information_schema.columns c
		WHERE c.table_schema = DATABASE() AND c.table_name = ?
		ORDER BY c.ordinal_position
	`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var columnType, nullable string
		var defaultVal sql.NullString
		var isUnique int

		if err := rows.Scan(&col.Name, &columnType, &nullable, &defaultVal, &isUnique); err != nil {
			return nil, err
		}

		col.NativeType = strings.ToLower(columnType)
		col.Nullable = nullable == "YES"
		col.Unique = isUnique == 1
		if defaultVal.Valid {
			col.Default = schema.Default{Kind: schema.DefaultExpression, Value: defaultVal.String}
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// extractPrimaryKey extracts primary key columns
func (e *MySQLExtractor) extractPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE()
			AND table_name = ?
			AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position
	`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return nil, err
		}
		pk = append(pk, colName)
	}

	return pk, rows.Err()
}

// extractForeignKeys groups key_column_usage rows by constraint
func (e *MySQLExtractor) extractForeignKeys(ctx context.Context, namespace, tableName string) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			kcu.constraint_name,
			kcu.column_name,
			kcu.referenced_table_name,
			kcu.referenced_column_name,
			rc.delete_rule
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_schema = kcu.table_schema
			AND rc.constraint_name = kcu.constraint_name
		WHERE kcu.table_schema = DATABASE()
			AND kcu.table_name = ?
			AND kcu.referenced_table_name IS NOT NULL
		ORDER BY kcu.constraint_name, kcu.ordinal_position
	`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var name, column, refTable, refColumn, rule string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &rule); err != nil {
			return nil, err
		}

		name = localName(namespace, name)
		if n := len(fks); n > 0 && fks[n-1].Name == name {
			fks[n-1].Columns = append(fks[n-1].Columns, column)
			fks[n-1].RefColumns = append(fks[n-1].RefColumns, refColumn)
			continue
		}
		ref, _ := schema.SplitPrefixedName(refTable)
		fks = append(fks, schema.ForeignKey{
			Name:       name,
			Columns:    []string{column},
			RefTable:   ref,
			RefColumns: []string{refColumn},
			OnDelete:   deleteAction(rule),
		})
	}

	return fks, rows.Err()
}

// extractIndexes extracts index information
func (e *MySQLExtractor) extractIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT
			s.index_name,
			MIN(s.non_unique) = 0 AS is_unique,
			GROUP_CONCAT(s.column_name ORDER BY s.seq_in_index) AS column_names
		FROM information_schema.statistics s
		WHERE s.table_schema = DATABASE()
			AND s.table_name = ?
			AND s.index_name != 'PRIMARY'
		GROUP BY s.index_name
		ORDER BY s.index_name
	`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var idx schema.Index
		var isUnique int
		var columnNames string

		if err := rows.Scan(&idx.Name, &isUnique, &columnNames); err != nil {
			return nil, err
		}

		idx.Unique = isUnique == 1
		idx.Columns = strings.Split(columnNames, ",")

		indexes = append(indexes, idx)
	}

	return indexes, rows.Err()
}

// extractChecks extracts check constraints (MySQL 8.0.16 and later)
func (e *MySQLExtractor) extractChecks(ctx context.Context, namespace, tableName string) ([]schema.Check, error) {
	query := `
		SELECT cc.constraint_name, cc.check_clause
		FROM information_schema.check_constraints cc
		JOIN information_schema.table_constraints tc
			ON tc.constraint_schema = cc.constraint_schema
			AND tc.constraint_name = cc.constraint_name
		WHERE tc.table_schema = DATABASE()
			AND tc.table_name = ?
			AND tc.constraint_type = 'CHECK'
		ORDER BY cc.constraint_name
	`

	rows, err := e.client.GetDB().QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []schema.Check
	for rows.Next() {
		var check schema.Check
		if err := rows.Scan(&check.Name, &check.Expression); err != nil {
			return nil, err
		}
		check.Name = localName(namespace, check.Name)
		checks = append(checks, check)
	}

	return checks, rows.Err()
}
