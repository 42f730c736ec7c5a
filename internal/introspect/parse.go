// Package introspect turns plugin declarations into the schema model.
package introspect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tordrt/plugmigrate/internal/declare"
	"github.com/tordrt/plugmigrate/internal/errdefs"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// Parse converts one plugin declaration into table definitions sorted by name.
// Every failure is a *errdefs.SchemaParseError.
func Parse(ps declare.PluginSchema) ([]*schema.Table, error) {
	if err := declare.Validate(ps); err != nil {
		return nil, &errdefs.SchemaParseError{Plugin: ps.Plugin, Reason: err.Error(), Err: err}
	}

	namespace := schema.NamespaceFor(ps.Plugin)
	ids := make([]string, 0, len(ps.Tables))
	for id := range ps.Tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]string)
	tables := make([]*schema.Table, 0, len(ids))
	for _, id := range ids {
		decl := ps.Tables[id]
		name := decl.Name
		if name == "" {
			name = id
		}
		if other, dup := seen[name]; dup {
			return nil, parseError(ps.Plugin, name, "", fmt.Sprintf("table declared twice (as %q and %q)", other, id))
		}
		seen[name] = id
		if budget := schema.NameBudget(namespace); len(name) > budget {
			return nil, parseError(ps.Plugin, name, "", fmt.Sprintf("table name exceeds %d bytes, the limit for namespace %q", budget, namespace))
		}

		table, err := parseTable(ps.Plugin, namespace, name, decl)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

// ParseAll parses every plugin. Plugins that fail are reported in failures and
// contribute no tables; the returned tables keep plugin order.
func ParseAll(schemas []declare.PluginSchema) ([]*schema.Table, map[string]error) {
	failures := make(map[string]error)
	owners := make(map[string]string)
	parsed := make(map[string][]*schema.Table)
	var order []string

	for _, ps := range schemas {
		ns := schema.NamespaceFor(ps.Plugin)
		if owner, taken := owners[ns]; taken {
			if owner == ps.Plugin {
				failures[ps.Plugin] = parseError(ps.Plugin, "", "", "plugin declared more than once")
				delete(parsed, ps.Plugin)
			} else {
				failures[ps.Plugin] = parseError(ps.Plugin, "", "", fmt.Sprintf("namespace %q already owned by plugin %q", ns, owner))
			}
			continue
		}
		owners[ns] = ps.Plugin
		order = append(order, ps.Plugin)

		tables, err := Parse(ps)
		if err != nil {
			failures[ps.Plugin] = err
			continue
		}
		parsed[ps.Plugin] = tables
	}

	var tables []*schema.Table
	for _, plugin := range order {
		tables = append(tables, parsed[plugin]...)
	}
	return tables, failures
}

func parseTable(plugin, namespace, name string, decl declare.TableDecl) (*schema.Table, error) {
	table := &schema.Table{
		Namespace: namespace,
		Name:      name,
		Plugin:    plugin,
	}

	var columnPK []string
	for _, cd := range decl.Columns {
		if _, dup := table.Column(cd.Name); dup {
			return nil, parseError(plugin, name, cd.Name, "column declared twice")
		}
		col, err := parseColumn(cd)
		if err != nil {
			return nil, parseError(plugin, name, cd.Name, err.Error())
		}
		if cd.PrimaryKey {
			columnPK = append(columnPK, cd.Name)
		}
		table.Columns = append(table.Columns, col)
	}

	pk, err := resolvePrimaryKey(table, columnPK, decl.PrimaryKey)
	if err != nil {
		return nil, parseError(plugin, name, "", err.Error())
	}
	table.PrimaryKey = pk
	for _, colName := range pk {
		col, _ := table.Column(colName)
		col.Nullable = false
	}

	for _, cd := range decl.Columns {
		if cd.References == nil {
			continue
		}
		ref := cd.References
		refColumn := ref.Column
		if refColumn == "" {
			refColumn = "id"
		}
		fk, err := buildForeignKey(plugin, namespace, name, ref.Name, []string{cd.Name}, ref.Plugin, ref.Table, []string{refColumn}, ref.OnDelete)
		if err != nil {
			return nil, parseError(plugin, name, cd.Name, err.Error())
		}
		table.ForeignKeys = append(table.ForeignKeys, fk)
	}
	for _, fd := range decl.ForeignKeys {
		if len(fd.Columns) != len(fd.RefColumns) {
			return nil, parseError(plugin, name, strings.Join(fd.Columns, ","),
				fmt.Sprintf("foreign key has %d columns but references %d", len(fd.Columns), len(fd.RefColumns)))
		}
		if !table.HasColumns(fd.Columns) {
			return nil, parseError(plugin, name, strings.Join(fd.Columns, ","), "foreign key uses undeclared columns")
		}
		fk, err := buildForeignKey(plugin, namespace, name, fd.Name, fd.Columns, fd.Plugin, fd.Table, fd.RefColumns, fd.OnDelete)
		if err != nil {
			return nil, parseError(plugin, name, strings.Join(fd.Columns, ","), err.Error())
		}
		table.ForeignKeys = append(table.ForeignKeys, fk)
	}
	if dup := duplicateName(len(table.ForeignKeys), func(i int) string { return table.ForeignKeys[i].Name }); dup != "" {
		return nil, parseError(plugin, name, "", fmt.Sprintf("foreign key %q declared twice", dup))
	}

	for _, id := range decl.Indexes {
		if !table.HasColumns(id.Columns) {
			return nil, parseError(plugin, name, strings.Join(id.Columns, ","), "index uses undeclared columns")
		}
		idxName, err := objectName(namespace, id.Name, fmt.Sprintf("%s_%s_idx", name, strings.Join(id.Columns, "_")))
		if err != nil {
			return nil, parseError(plugin, name, strings.Join(id.Columns, ","), err.Error())
		}
		table.Indexes = append(table.Indexes, schema.Index{
			Name:    idxName,
			Columns: slices.Clone(id.Columns),
			Unique:  id.Unique,
			Where:   strings.TrimSpace(id.Where),
		})
	}
	if dup := duplicateName(len(table.Indexes), func(i int) string { return table.Indexes[i].Name }); dup != "" {
		return nil, parseError(plugin, name, "", fmt.Sprintf("index %q declared twice", dup))
	}

	for _, cd := range decl.Checks {
		expr := strings.TrimSpace(cd.Expression)
		sum := sha256.Sum256([]byte(expr))
		checkName, err := objectName(namespace, cd.Name, fmt.Sprintf("%s_check_%s", name, hex.EncodeToString(sum[:4])))
		if err != nil {
			return nil, parseError(plugin, name, "", err.Error())
		}
		table.Checks = append(table.Checks, schema.Check{Name: checkName, Expression: expr})
	}
	if dup := duplicateName(len(table.Checks), func(i int) string { return table.Checks[i].Name }); dup != "" {
		return nil, parseError(plugin, name, "", fmt.Sprintf("check constraint %q declared twice", dup))
	}

	return table, nil
}

func parseColumn(cd declare.ColumnDecl) (schema.Column, error) {
	typ, err := schema.ParseColumnType(cd.Type, cd.WithTimeZone)
	if err != nil {
		return schema.Column{}, err
	}

	col := schema.Column{
		Name:     cd.Name,
		Type:     typ,
		Nullable: !cd.NotNull && !cd.PrimaryKey,
		Unique:   cd.Unique,
	}
	if cd.DefaultExpr != "" {
		col.Default = schema.Default{Kind: schema.DefaultExpression, Value: strings.TrimSpace(cd.DefaultExpr)}
		return col, nil
	}
	col.Default, err = schema.ParseDefault(cd.Default, typ)
	if err != nil {
		return schema.Column{}, err
	}
	return col, nil
}

// resolvePrimaryKey reconciles column level flags with the table level key list
func resolvePrimaryKey(table *schema.Table, fromColumns, fromTable []string) ([]string, error) {
	switch {
	case len(fromColumns) == 0 && len(fromTable) == 0:
		return nil, fmt.Errorf("no primary key declared")
	case len(fromTable) == 0:
		return fromColumns, nil
	}

	if len(fromColumns) > 0 && !sameSet(fromColumns, fromTable) {
		return nil, fmt.Errorf("primary key columns %v contradict table primary key %v", fromColumns, fromTable)
	}
	if !table.HasColumns(fromTable) {
		return nil, fmt.Errorf("primary key %v uses undeclared columns", fromTable)
	}
	if duplicateName(len(fromTable), func(i int) string { return fromTable[i] }) != "" {
		return nil, fmt.Errorf("primary key %v repeats a column", fromTable)
	}
	return slices.Clone(fromTable), nil
}

func buildForeignKey(plugin, namespace, table, name string, columns []string, refPlugin, refTable string, refColumns []string, onDelete string) (schema.ForeignKey, error) {
	action, err := schema.ParseOnDelete(onDelete)
	if err != nil {
		return schema.ForeignKey{}, err
	}
	refNamespace := namespace
	if refPlugin != "" && refPlugin != plugin {
		refNamespace = schema.NamespaceFor(refPlugin)
	}
	name, err = objectName(namespace, name, fmt.Sprintf("%s_%s_fkey", table, strings.Join(columns, "_")))
	if err != nil {
		return schema.ForeignKey{}, err
	}
	return schema.ForeignKey{
		Name:       name,
		Columns:    slices.Clone(columns),
		RefTable:   schema.QualifiedName{Namespace: refNamespace, Name: refTable},
		RefColumns: slices.Clone(refColumns),
		OnDelete:   action,
	}, nil
}

// objectName returns the explicit name of an index or constraint, or the derived one
// shortened to fit the namespace budget. Explicit names are never rewritten.
func objectName(namespace, explicit, derived string) (string, error) {
	budget := schema.NameBudget(namespace)
	if explicit == "" {
		return schema.ShortenName(derived, budget), nil
	}
	if len(explicit) > budget {
		return "", fmt.Errorf("name %q exceeds %d bytes, the limit for namespace %q", explicit, budget, namespace)
	}
	return explicit, nil
}

func parseError(plugin, table, column, reason string) *errdefs.SchemaParseError {
	return &errdefs.SchemaParseError{Plugin: plugin, Table: table, Column: column, Reason: reason}
}

func duplicateName(n int, name func(int) string) string {
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		if seen[name(i)] {
			return name(i)
		}
		seen[name(i)] = true
	}
	return ""
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	sort.Strings(x)
	sort.Strings(y)
	return slices.Equal(x, y)
}
