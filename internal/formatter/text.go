package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/plugmigrate/internal/migrate"
	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// TextFormatter formats plans, results and snapshots as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// FormatSnapshot writes every table of the snapshot in name order
func (f *TextFormatter) FormatSnapshot(s *schema.Snapshot) error {
	for i, table := range s.Sorted() {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer) // Blank line between tables
		}
		f.formatTable(table)
	}
	return nil
}

func (f *TextFormatter) formatTable(table *schema.Table) {
	pkStr := ""
	if len(table.PrimaryKey) > 0 {
		pkStr = fmt.Sprintf(" (PK: %s)", strings.Join(table.PrimaryKey, ", "))
	}
	_, _ = fmt.Fprintf(f.writer, "TABLE %s%s\n", table.QualifiedName(), pkStr)

	for _, col := range table.Columns {
		_, _ = fmt.Fprintf(f.writer, "  %s\n", formatColumn(col))
	}

	if len(table.ForeignKeys) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  FOREIGN KEYS:")
		for _, fk := range table.ForeignKeys {
			_, _ = fmt.Fprintf(f.writer, "    %s: %s → %s(%s) ON DELETE %s\n", fk.Name, strings.Join(fk.Columns, ", "),
				fk.RefTable, strings.Join(fk.RefColumns, ", "), onDeleteLabel(fk.OnDelete))
		}
	}

	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  INDEXES:")
		for _, idx := range table.Indexes {
			_, _ = fmt.Fprintf(f.writer, "    %s\n", formatIndex(idx))
		}
	}

	if len(table.Checks) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  CHECKS:")
		for _, check := range table.Checks {
			_, _ = fmt.Fprintf(f.writer, "    %s: %s\n", check.Name, check.Expression)
		}
	}
}

// FormatPlan writes the plan grouped by plugin, foreign keys last
func (f *TextFormatter) FormatPlan(p *plan.Plan) error {
	if p.Empty() && len(p.Failures) == 0 {
		_, _ = fmt.Fprintln(f.writer, "Nothing to do.")
		return nil
	}

	for i, plugin := range p.Plugins {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer)
		}
		_, _ = fmt.Fprintf(f.writer, "PLUGIN %s\n", plugin)
		if err, ok := p.Failures[plugin]; ok {
			_, _ = fmt.Fprintf(f.writer, "  FAILED: %v\n", err)
			continue
		}
		ops := p.ForPlugin(plugin)
		if len(ops) == 0 {
			_, _ = fmt.Fprintln(f.writer, "  up to date")
			continue
		}
		for _, op := range ops {
			marker := "+"
			if plan.IsDeferred(op) {
				marker = "~"
			}
			_, _ = fmt.Fprintf(f.writer, "  %s %s\n", marker, op)
		}
	}

	if len(p.Cycles) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "CYCLES (foreign keys deferred):")
		for _, cycle := range p.Cycles {
			_, _ = fmt.Fprintf(f.writer, "  %s\n", joinNames(cycle))
		}
	}
	return nil
}

// FormatResult writes the outcome table and the totals
func (f *TextFormatter) FormatResult(r *migrate.Result) error {
	WriteOutcomeTable(f.writer, r)
	_, _ = fmt.Fprintf(f.writer, "\n%d applied, %d skipped, %d failed plugins\n", r.Applied, r.Skipped, len(r.Failed()))
	return nil
}

func formatColumn(col schema.Column) string {
	parts := []string{col.Name + ":", col.TypeString()}

	if col.Unique {
		parts = append(parts, "UNIQUE")
	}

	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}

	if !col.Default.IsZero() {
		parts = append(parts, fmt.Sprintf("DEFAULT %s", col.Default))
	}

	return strings.Join(parts, " ")
}

func formatIndex(idx schema.Index) string {
	s := fmt.Sprintf("%s (%s)", idx.Name, strings.Join(idx.Columns, ", "))
	if idx.Unique {
		s += " UNIQUE"
	}
	if idx.Where != "" {
		s += " WHERE " + idx.Where
	}
	return s
}

func onDeleteLabel(a schema.OnDeleteAction) string {
	if a == "" {
		return string(schema.OnDeleteNoAction)
	}
	return string(a)
}

func joinNames(names []schema.QualifiedName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}
