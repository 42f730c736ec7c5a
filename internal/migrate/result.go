package migrate

import (
	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// Status is the outcome of one plugin
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ReasonNothingToDo is the reason of a skipped plugin
const ReasonNothingToDo = "nothing to do"

// PluginOutcome is the outcome of one plugin in a run
type PluginOutcome struct {
	Plugin    string
	Namespace string
	Status    Status
	// Reason explains a failed or skipped plugin
	Reason  string
	Err     error
	Applied []plan.Operation
	Skipped []plan.Operation
}

// TableStatus is the outcome of one table
type TableStatus string

const (
	TableApplied TableStatus = "applied"
	TableSkipped TableStatus = "skipped"
	TableFailed  TableStatus = "failed"
)

// TableOutcome summarizes the operations run against one table
type TableOutcome struct {
	Table   schema.QualifiedName
	Plugin  string
	Status  TableStatus
	Applied int
	Skipped int
}

// Result is the outcome of applying a plan
type Result struct {
	Applied int
	Skipped int
	// Plugins in plan order
	Plugins []*PluginOutcome
	Tables  map[schema.QualifiedName]*TableOutcome
}

// Plugin returns the outcome of plugin, or nil when it was not part of the run
func (r *Result) Plugin(plugin string) *PluginOutcome {
	for _, o := range r.Plugins {
		if o.Plugin == plugin {
			return o
		}
	}
	return nil
}

// Failed returns the failed plugin outcomes
func (r *Result) Failed() []*PluginOutcome {
	var failed []*PluginOutcome
	for _, o := range r.Plugins {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

func newResult(p *plan.Plan) *Result {
	r := &Result{Tables: make(map[schema.QualifiedName]*TableOutcome, len(p.Owners))}
	for _, plugin := range p.Plugins {
		r.Plugins = append(r.Plugins, &PluginOutcome{Plugin: plugin, Namespace: schema.NamespaceFor(plugin)})
	}
	for q, plugin := range p.Owners {
		r.Tables[q] = &TableOutcome{Table: q, Plugin: plugin, Status: TableSkipped}
		if o := r.Plugin(plugin); o != nil {
			o.Namespace = q.Namespace
		}
	}
	return r
}

func (r *Result) record(op plan.Operation, applied bool) {
	o := r.Plugin(op.Table().Plugin)
	t := r.table(op)
	if applied {
		r.Applied++
		o.Applied = append(o.Applied, op)
		t.Applied++
		if t.Status != TableFailed {
			t.Status = TableApplied
		}
		return
	}
	r.Skipped++
	o.Skipped = append(o.Skipped, op)
	t.Skipped++
}

func (r *Result) table(op plan.Operation) *TableOutcome {
	q := op.Table().QualifiedName()
	t, ok := r.Tables[q]
	if !ok {
		t = &TableOutcome{Table: q, Plugin: op.Table().Plugin, Status: TableSkipped}
		r.Tables[q] = t
	}
	return t
}

func (r *Result) fail(plugin string, err error) {
	o := r.Plugin(plugin)
	if o == nil {
		o = &PluginOutcome{Plugin: plugin, Namespace: schema.NamespaceFor(plugin)}
		r.Plugins = append(r.Plugins, o)
	}
	o.Status = StatusFailed
	o.Err = err
	o.Reason = err.Error()
	for _, t := range r.Tables {
		if t.Plugin == plugin {
			t.Status = TableFailed
		}
	}
}

// finish settles the status of every plugin that did not fail
func (r *Result) finish() {
	for _, o := range r.Plugins {
		switch {
		case o.Status == StatusFailed:
		case len(o.Applied) > 0:
			o.Status = StatusSucceeded
		default:
			o.Status = StatusSkipped
			o.Reason = ReasonNothingToDo
		}
	}
}
