package formatter

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/tordrt/plugmigrate/internal/journal"
	"github.com/tordrt/plugmigrate/internal/migrate"
)

// WriteOutcomeTable writes the plugin outcomes of a run as an aligned table
func WriteOutcomeTable(w io.Writer, r *migrate.Result) {
	table := newTable(w, []string{"Plugin", "Namespace", "Status", "Applied", "Skipped", "Reason"})
	for _, o := range r.Plugins {
		table.Append([]string{o.Plugin, o.Namespace, string(o.Status),
			strconv.Itoa(len(o.Applied)), strconv.Itoa(len(o.Skipped)), o.Reason})
	}
	table.Render()
}

// WriteStatusTable writes the latest journal entry of every plugin
func WriteStatusTable(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "No runs recorded.")
		return
	}
	table := newTable(w, []string{"Plugin", "Status", "Applied", "Skipped", "Run", "Recorded", "Reason"})
	for _, e := range entries {
		table.Append([]string{e.Plugin, e.Status, strconv.Itoa(e.Applied), strconv.Itoa(e.Skipped),
			e.RunID, e.RecordedAt.UTC().Format("2006-01-02 15:04:05"), e.Reason})
	}
	table.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetAutoWrapText(false)
	return table
}
