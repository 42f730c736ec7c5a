package db

import (
	"context"
	"database/sql"

	"github.com/tordrt/plugmigrate/internal/schema"
)

// Helpers shared by the extractors of dialects that emulate namespaces with prefixes.

// namespaceFilter reports whether a namespace was requested. An empty request matches all.
func namespaceFilter(namespaces []string) func(string) bool {
	if len(namespaces) == 0 {
		return func(string) bool { return true }
	}
	wanted := make(map[string]bool, len(namespaces))
	for _, ns := range namespaces {
		wanted[ns] = true
	}
	return func(ns string) bool { return wanted[ns] }
}

// localName strips a namespace prefix from a constraint or index name
func localName(namespace, physical string) string {
	if q, ok := schema.SplitPrefixedName(physical); ok && q.Namespace == namespace {
		return q.Name
	}
	return physical
}

// deleteAction maps a catalog delete rule onto an OnDeleteAction
func deleteAction(rule string) schema.OnDeleteAction {
	action, err := schema.ParseOnDelete(rule)
	if err != nil {
		return schema.OnDeleteNoAction
	}
	return action
}

// prefixedTables lists physical table names and maps them to qualified names
func prefixedTables(ctx context.Context, db *sql.DB, query string, namespaces []string, args ...any) (map[schema.QualifiedName]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	include := namespaceFilter(namespaces)
	tables := make(map[schema.QualifiedName]string)
	for rows.Next() {
		var physical string
		if err := rows.Scan(&physical); err != nil {
			return nil, err
		}
		q, _ := schema.SplitPrefixedName(physical)
		if q.Namespace == "" && len(namespaces) > 0 {
			continue
		}
		if !include(q.Namespace) {
			continue
		}
		tables[q] = physical
	}

	return tables, rows.Err()
}
