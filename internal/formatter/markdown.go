package formatter

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/tordrt/plugmigrate/internal/migrate"
	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// MarkdownFormatter formats plans, results and snapshots as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// FormatSnapshot writes the live catalog
func (f *MarkdownFormatter) FormatSnapshot(s *schema.Snapshot) error {
	_, _ = fmt.Fprintln(f.writer, "# Database Schema")
	_, _ = fmt.Fprintln(f.writer)

	for _, table := range s.Sorted() {
		f.formatTable(table)
	}
	return nil
}

func (f *MarkdownFormatter) formatTable(table *schema.Table) {
	_, _ = fmt.Fprintf(f.writer, "## %s\n\n", table.QualifiedName())

	_, _ = fmt.Fprintln(f.writer, "### Columns")
	_, _ = fmt.Fprintln(f.writer)
	for _, col := range table.Columns {
		constraintStr := f.formatConstraints(col, table.PrimaryKey)
		if constraintStr != "" {
			_, _ = fmt.Fprintf(f.writer, "- **%s:** %s, %s\n", col.Name, col.TypeString(), constraintStr)
		} else {
			_, _ = fmt.Fprintf(f.writer, "- **%s:** %s\n", col.Name, col.TypeString())
		}
	}
	_, _ = fmt.Fprintln(f.writer)

	if len(table.ForeignKeys) > 0 {
		_, _ = fmt.Fprintln(f.writer, "### References")
		_, _ = fmt.Fprintln(f.writer)
		for _, fk := range table.ForeignKeys {
			_, _ = fmt.Fprintf(f.writer, "- %s → %s(%s), on delete %s\n",
				strings.Join(fk.Columns, ", "),
				fk.RefTable,
				strings.Join(fk.RefColumns, ", "),
				strings.ToLower(onDeleteLabel(fk.OnDelete)))
		}
		_, _ = fmt.Fprintln(f.writer)
	}

	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer, "### Idx")
		_, _ = fmt.Fprintln(f.writer)
		for _, idx := range table.Indexes {
			_, _ = fmt.Fprintf(f.writer, "- %s\n", formatIndex(idx))
		}
		_, _ = fmt.Fprintln(f.writer)
	}

	if len(table.Checks) > 0 {
		_, _ = fmt.Fprintln(f.writer, "### Checks")
		_, _ = fmt.Fprintln(f.writer)
		for _, check := range table.Checks {
			_, _ = fmt.Fprintf(f.writer, "- %s: `%s`\n", check.Name, check.Expression)
		}
		_, _ = fmt.Fprintln(f.writer)
	}
}

func (f *MarkdownFormatter) formatConstraints(col schema.Column, primaryKey []string) string {
	var constraints []string

	if slices.Contains(primaryKey, col.Name) {
		constraints = append(constraints, "PK")
	}

	if col.Unique {
		constraints = append(constraints, "UNIQUE")
	}

	if !col.Nullable {
		constraints = append(constraints, "NOT NULL")
	}

	if !col.Default.IsZero() {
		constraints = append(constraints, fmt.Sprintf("DEFAULT %s", col.Default))
	}

	return strings.Join(constraints, ", ")
}

// FormatPlan writes the plan as one section per plugin
func (f *MarkdownFormatter) FormatPlan(p *plan.Plan) error {
	_, _ = fmt.Fprintln(f.writer, "# Migration Plan")
	_, _ = fmt.Fprintln(f.writer)

	for _, plugin := range p.Plugins {
		_, _ = fmt.Fprintf(f.writer, "## %s\n\n", plugin)
		if err, ok := p.Failures[plugin]; ok {
			_, _ = fmt.Fprintf(f.writer, "**Failed:** %v\n\n", err)
			continue
		}
		ops := p.ForPlugin(plugin)
		if len(ops) == 0 {
			_, _ = fmt.Fprintf(f.writer, "Up to date.\n\n")
			continue
		}
		for i, op := range ops {
			note := ""
			if plan.IsDeferred(op) {
				note = " (deferred)"
			}
			_, _ = fmt.Fprintf(f.writer, "%d. `%s`%s\n", i+1, op, note)
		}
		_, _ = fmt.Fprintln(f.writer)
	}

	if len(p.Cycles) > 0 {
		_, _ = fmt.Fprintln(f.writer, "## Dependency cycles")
		_, _ = fmt.Fprintln(f.writer)
		for _, cycle := range p.Cycles {
			_, _ = fmt.Fprintf(f.writer, "- %s\n", joinNames(cycle))
		}
		_, _ = fmt.Fprintln(f.writer)
	}
	return nil
}

// FormatResult writes the outcomes as a markdown table
func (f *MarkdownFormatter) FormatResult(r *migrate.Result) error {
	_, _ = fmt.Fprintln(f.writer, "| Plugin | Status | Applied | Skipped | Reason |")
	_, _ = fmt.Fprintln(f.writer, "|---|---|---|---|---|")
	for _, o := range r.Plugins {
		_, _ = fmt.Fprintf(f.writer, "| %s | %s | %d | %d | %s |\n", o.Plugin, o.Status, len(o.Applied), len(o.Skipped),
			strings.ReplaceAll(o.Reason, "|", `\|`))
	}
	return nil
}
