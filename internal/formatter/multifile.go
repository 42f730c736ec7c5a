package formatter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tordrt/plugmigrate/internal/db"
	"github.com/tordrt/plugmigrate/internal/plan"
)

const (
	formatMarkdown = "markdown"
)

// MultiFileFormatter writes a plan as one SQL script per plugin plus an overview file
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text" or "markdown", for the overview
	dialect      db.Dialect
}

// NewMultiFileFormatter creates a new multi-file formatter rendering DDL with dialect
func NewMultiFileFormatter(outputDir, format string, dialect db.Dialect) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
		dialect:      dialect,
	}
}

// Format writes the plan to multiple files
func (f *MultiFileFormatter) Format(p *plan.Plan) error {
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeOverview(p); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	for _, plugin := range p.Plugins {
		ops := p.ForPlugin(plugin)
		if len(ops) == 0 {
			continue
		}
		if err := f.writePluginFile(plugin, ops); err != nil {
			return fmt.Errorf("failed to write script for %s: %w", plugin, err)
		}
	}

	return nil
}

// writeOverview writes the overview file
func (f *MultiFileFormatter) writeOverview(p *plan.Plan) error {
	filename := filepath.Join(f.OutputDir, "_overview"+f.getFileExtension())

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if f.OutputFormat == formatMarkdown {
		_, _ = fmt.Fprintf(file, "# Plan Overview\n\n")
		_, _ = fmt.Fprintf(file, "Each plugin with pending changes has a script: `<plugin>.sql`\n\n")
		_, _ = fmt.Fprintf(file, "## Plugins\n\n")
		for _, line := range f.overviewLines(p) {
			_, _ = fmt.Fprintf(file, "- %s\n", line)
		}
		return nil
	}

	_, _ = fmt.Fprintf(file, "PLAN OVERVIEW\n")
	_, _ = fmt.Fprintf(file, "Each plugin with pending changes has a script: <plugin>.sql\n\n")
	for _, line := range f.overviewLines(p) {
		_, _ = fmt.Fprintf(file, "%s\n", line)
	}
	return nil
}

// overviewLines describes every plugin, sorted by plugin id
func (f *MultiFileFormatter) overviewLines(p *plan.Plan) []string {
	plugins := make([]string, len(p.Plugins))
	copy(plugins, p.Plugins)
	sort.Strings(plugins)

	lines := make([]string, 0, len(plugins))
	for _, plugin := range plugins {
		if err, ok := p.Failures[plugin]; ok {
			lines = append(lines, fmt.Sprintf("%s (failed: %v)", plugin, err))
			continue
		}
		ops := p.ForPlugin(plugin)
		if len(ops) == 0 {
			lines = append(lines, fmt.Sprintf("%s (up to date)", plugin))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%d operations)", plugin, len(ops)))
	}
	return lines
}

// writePluginFile writes the DDL of one plugin; operations the dialect cannot express become comments
func (f *MultiFileFormatter) writePluginFile(plugin string, ops []plan.Operation) error {
	filename := filepath.Join(f.OutputDir, safeFileName(plugin)+".sql")

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	_, _ = fmt.Fprintf(file, "-- plugin: %s\n-- dialect: %s\n", plugin, f.dialect.Name())
	for _, op := range ops {
		_, _ = fmt.Fprintf(file, "\n-- %s\n", op)
		stmts, err := f.dialect.Statements(op)
		if errors.Is(err, db.ErrUnsupported) {
			_, _ = fmt.Fprintf(file, "-- skipped: %v\n", err)
			continue
		}
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			_, _ = fmt.Fprintf(file, "%s;\n", stmt)
		}
	}
	return nil
}

func (f *MultiFileFormatter) getFileExtension() string {
	if f.OutputFormat == formatMarkdown {
		return ".md"
	}
	return ".txt"
}

// safeFileName keeps plugin ids such as "acme/blog" inside the output directory
func safeFileName(plugin string) string {
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(plugin)
}
