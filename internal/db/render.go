package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// quoteFunc quotes a single identifier
type quoteFunc func(string) string

func quoteList(quote quoteFunc, names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", ")
}

// standardQuoteLiteral quotes a string literal by doubling single quotes
func standardQuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literalValue renders a literal default for a column of type t
func literalValue(t schema.ColumnType, value string, quote func(string) string, trueLit, falseLit string) string {
	switch t.Kind {
	case schema.TypeInteger, schema.TypeBigInt, schema.TypeNumeric:
		return value
	case schema.TypeBoolean:
		if b, err := strconv.ParseBool(value); err == nil && b {
			return trueLit
		}
		return falseLit
	default:
		return quote(value)
	}
}

// keyedColumns returns the columns used by the primary key, unique flags, indexes or foreign keys
func keyedColumns(t *schema.Table) map[string]bool {
	keyed := make(map[string]bool)
	for _, name := range t.PrimaryKey {
		keyed[name] = true
	}
	for _, col := range t.Columns {
		if col.Unique {
			keyed[col.Name] = true
		}
	}
	for _, idx := range t.Indexes {
		for _, name := range idx.Columns {
			keyed[name] = true
		}
	}
	for _, fk := range t.ForeignKeys {
		for _, name := range fk.Columns {
			keyed[name] = true
		}
	}
	return keyed
}

func unknownOperation(op plan.Operation) error {
	return fmt.Errorf("unknown operation %T", op)
}

// hasTypePrefix matches a normalized native type against candidate prefixes
func hasTypePrefix(native string, prefixes ...string) bool {
	native = strings.ToLower(strings.TrimSpace(native))
	for _, p := range prefixes {
		if strings.HasPrefix(native, p) {
			return true
		}
	}
	return false
}
