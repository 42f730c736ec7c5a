package db

import (
	"context"
	"fmt"

	"github.com/tordrt/plugmigrate/internal/schema"
)

const varcharType = "varchar"

// PostgresExtractor reads the live catalog from PostgreSQL
type PostgresExtractor struct {
	client *PostgresClient
}

// NewPostgresExtractor creates a new catalog extractor
func NewPostgresExtractor(client *PostgresClient) *PostgresExtractor {
	return &PostgresExtractor{client: client}
}

// Snapshot extracts every table of the given schemas.
// If namespaces is empty, every non-system schema is read.
func (e *PostgresExtractor) Snapshot(ctx context.Context, namespaces []string) (*schema.Snapshot, error) {
	snap := schema.NewSnapshot()

	names, err := e.getTableNames(ctx, namespaces)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}

	for _, name := range names {
		table, err := e.extractTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to extract table %s: %w", name, err)
		}
		snap.Add(table)
	}

	return snap, nil
}

// getTableNames returns the tables to extract
func (e *PostgresExtractor) getTableNames(ctx context.Context, namespaces []string) ([]schema.QualifiedName, error) {
	query := `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
			AND table_schema NOT IN ('pg_catalog', 'information_schema')
			AND table_schema NOT LIKE 'pg_toast%'
			AND (cardinality($1::text[]) = 0 OR table_schema = ANY($1::text[]))
		ORDER BY table_schema, table_name
	`

	if namespaces == nil {
		namespaces = []string{}
	}
	rows, err := e.client.GetConnection().Query(ctx, query, namespaces)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []schema.QualifiedName
	for rows.Next() {
		var q schema.QualifiedName
		if err := rows.Scan(&q.Namespace, &q.Name); err != nil {
			return nil, err
		}
		tables = append(tables, q)
	}

	return tables, rows.Err()
}

// extractTable extracts all information for a single table
func (e *PostgresExtractor) extractTable(ctx context.Context, name schema.QualifiedName) (*schema.Table, error) {
	table := &schema.Table{Namespace: name.Namespace, Name: name.Name}

	columns, err := e.extractColumns(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	table.Columns = columns

	pk, err := e.extractPrimaryKey(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to extract primary key: %w", err)
	}
	table.PrimaryKey = pk

	fks, err := e.extractForeignKeys(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to extract foreign keys: %w", err)
	}
	table.ForeignKeys = fks

	indexes, err := e.extractIndexes(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	table.Indexes = indexes

	checks, err := e.extractChecks(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to extract check constraints: %w", err)
	}
	table.Checks = checks

	return table, nil
}

// normalizePostgresType maps verbose SQL type names to commonly-used PostgreSQL equivalents
func normalizePostgresType(dataType, udtName string, charMaxLength, precision, scale *int) string {
	switch dataType {
	case "timestamp with time zone":
		return "timestamptz"
	case "timestamp without time zone":
		return "timestamp"
	case "time with time zone":
		return "timetz"
	case "time without time zone":
		return "time"
	case "character varying":
		if charMaxLength != nil {
			return fmt.Sprintf("varchar(%d)", *charMaxLength)
		}
		return varcharType
	case "character":
		if charMaxLength != nil {
			return fmt.Sprintf("char(%d)", *charMaxLength)
		}
		return "char"
	case "numeric":
		if precision != nil {
			s := 0
			if scale != nil {
				s = *scale
			}
			return fmt.Sprintf("numeric(%d,%d)", *precision, s)
		}
		return "numeric"
	case "ARRAY":
		// udt_name has underscore prefix for arrays (e.g., "_text" for text[], "_int4" for integer[])
		if len(udtName) > 0 && udtName[0] == '_' {
			return normalizeUdtName(udtName[1:]) + "[]"
		}
		return "array"
	case "USER-DEFINED":
		return udtName
	default:
		return dataType
	}
}

// normalizeUdtName converts PostgreSQL internal type names to more readable forms
func normalizeUdtName(udtName string) string {
	switch udtName {
	case "int4":
		return "integer"
	case "int8":
		return "bigint"
	case "int2":
		return "smallint"
	case "float4":
		return "real"
	case "float8":
		return "double precision"
	case "bool":
		return "boolean"
	case "timestamptz":
		return "timestamptz"
	default:
		return udtName
	}
}

// extractColumns extracts column information for a table
func (e *PostgresExtractor) extractColumns(ctx context.Context, name schema.QualifiedName) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.constraint_column_usage ccu
					ON tc.constraint_name = ccu.constraint_name
					AND tc.table_schema = ccu.table_schema
				WHERE tc.table_schema = $1
					AND tc.table_name = $2
					AND tc.constraint_type = 'UNIQUE'
					AND ccu.column_name = c.column_name
			) AS is_unique,
			c.udt_name,
			c.character_maximum_length,
			c.numeric_precision,
			c.numeric_scale
		FROM information_schema.columns c
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := e.client.GetConnection().Query(ctx, query, name.Namespace, name.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var nullable, dataType, udtName string
		var defaultVal *string
		var charMaxLength, precision, scale *int

		if err := rows.Scan(&col.Name, &dataType, &nullable, &defaultVal, &col.Unique, &udtName, &charMaxLength, &precision, &scale); err != nil {
			return nil, err
		}

		col.Nullable = nullable == "YES"
		if defaultVal != nil {
			col.Default = schema.Default{Kind: schema.DefaultExpression, Value: *defaultVal}
		}
		col.NativeType = normalizePostgresType(dataType, udtName, charMaxLength, precision, scale)

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// extractPrimaryKey extracts primary key columns
func (e *PostgresExtractor) extractPrimaryKey(ctx context.Context, name schema.QualifiedName) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = $1
			AND table_name = $2
			AND constraint_name IN (
				SELECT constraint_name
				FROM information_schema.table_constraints
				WHERE table_schema = $1
					AND table_name = $2
					AND constraint_type = 'PRIMARY KEY'
			)
		ORDER BY ordinal_position
	`

	rows, err := e.client.GetConnection().Query(ctx, query, name.Namespace, name.Name)
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

// extractForeignKeys reads foreign keys from pg_constraint, keeping column pairing and order
func (e *PostgresExtractor) extractForeignKeys(ctx context.Context, name schema.QualifiedName) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			con.conname,
			array_agg(att.attname::text ORDER BY k.ord) AS columns,
			fn.nspname,
			ft.relname,
			array_agg(fatt.attname::text ORDER BY k.ord) AS ref_columns,
			con.confdeltype::text
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class ft ON ft.oid = con.confrelid
		JOIN pg_namespace fn ON fn.oid = ft.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
		JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
		JOIN pg_attribute fatt ON fatt.attrelid = con.confrelid AND fatt.attnum = k.fattnum
		WHERE con.contype = 'f'
			AND n.nspname = $1
			AND t.relname = $2
		GROUP BY con.conname, fn.nspname, ft.relname, con.confdeltype
		ORDER BY con.conname
	`

	rows, err := e.client.GetConnection().Query(ctx, query, name.Namespace, name.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var fk schema.ForeignKey
		var action string
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.RefTable.Namespace, &fk.RefTable.Name, &fk.RefColumns, &action); err != nil {
			return nil, err
		}
		fk.OnDelete = postgresDeleteAction(action)
		fks = append(fks, fk)
	}

	return fks, rows.Err()
}

// postgresDeleteAction decodes pg_constraint.confdeltype
func postgresDeleteAction(code string) schema.OnDeleteAction {
	switch code {
	case "c":
		return schema.OnDeleteCascade
	case "n":
		return schema.OnDeleteSetNull
	case "r":
		return schema.OnDeleteRestrict
	default:
		return schema.OnDeleteNoAction
	}
}

// extractIndexes extracts index information, including partial index predicates
func (e *PostgresExtractor) extractIndexes(ctx context.Context, name schema.QualifiedName) ([]schema.Index, error) {
	query := `
		SELECT
			i.relname AS index_name,
			ix.indisunique AS is_unique,
			array_agg(a.attname::text ORDER BY array_position(ix.indkey::int2[], a.attnum)) AS column_names,
			COALESCE(pg_get_expr(ix.indpred, ix.indrelid), '') AS predicate
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relkind = 'r'
			AND n.nspname = $1
			AND t.relname = $2
			AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique, ix.indpred, ix.indrelid
		ORDER BY i.relname
	`

	rows, err := e.client.GetConnection().Query(ctx, query, name.Namespace, name.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var idx schema.Index
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Columns, &idx.Where); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}

	return indexes, rows.Err()
}

// extractChecks extracts check constraints
func (e *PostgresExtractor) extractChecks(ctx context.Context, name schema.QualifiedName) ([]schema.Check, error) {
	query := `
		SELECT con.conname, pg_get_constraintdef(con.oid)
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE con.contype = 'c'
			AND n.nspname = $1
			AND t.relname = $2
		ORDER BY con.conname
	`

	rows, err := e.client.GetConnection().Query(ctx, query, name.Namespace, name.Name)
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
		checks = append(checks, check)
	}

	return checks, rows.Err()
}
