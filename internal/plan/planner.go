// Package plan diffs desired tables against the live catalog into additive operations.
package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tordrt/plugmigrate/internal/errdefs"
	"github.com/tordrt/plugmigrate/internal/schema"
)

// TypeChecker decides whether a live column can hold a declared logical type
type TypeChecker interface {
	Compatible(declared schema.ColumnType, native string) bool
}

// Plan is the ordered outcome of planning one run
type Plan struct {
	// Plugins in the order their first table appears in the dependency order
	Plugins []string
	// Operations holds every structural operation followed by every foreign key operation
	Operations []Operation
	// Failures holds plugins withdrawn from the plan
	Failures map[string]error
	// Owners maps every desired table to its plugin
	Owners map[schema.QualifiedName]string
	// Cycles are the dependency cycles whose foreign keys rely on the deferred phase
	Cycles [][]schema.QualifiedName
}

// ForPlugin returns the operations of one plugin in plan order
func (p *Plan) ForPlugin(plugin string) []Operation {
	var ops []Operation
	for _, op := range p.Operations {
		if op.Table().Plugin == plugin {
			ops = append(ops, op)
		}
	}
	return ops
}

// Empty reports whether the plan has nothing to apply
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}

// Fail withdraws a plugin and all of its operations. Unknown plugins are appended.
func (p *Plan) Fail(plugin string, err error) {
	if !slices.Contains(p.Plugins, plugin) {
		p.Plugins = append(p.Plugins, plugin)
	}
	if p.Failures == nil {
		p.Failures = make(map[string]error)
	}
	if existing, ok := p.Failures[plugin]; ok {
		err = errors.Join(existing, err)
	}
	p.Failures[plugin] = err

	kept := p.Operations[:0]
	for _, op := range p.Operations {
		if op.Table().Plugin != plugin {
			kept = append(kept, op)
		}
	}
	p.Operations = kept
}

// Planner computes additive plans
type Planner struct {
	types  TypeChecker
	logger zerolog.Logger
}

// New creates a planner using types to detect incompatible live columns
func New(types TypeChecker, logger zerolog.Logger) *Planner {
	return &Planner{
		types:  types,
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

// Plan diffs desired, already in dependency order, against existing.
//
// Missing tables become CreateTable; existing tables get AddColumn, CreateIndex and
// AddCheckConstraint for what they lack. Missing foreign keys are planned after every
// structural operation. Nothing is ever dropped or altered.
func (p *Planner) Plan(desired []*schema.Table, existing *schema.Snapshot) *Plan {
	result := &Plan{
		Failures: make(map[string]error),
		Owners:   make(map[schema.QualifiedName]string, len(desired)),
	}

	declared := make(map[schema.QualifiedName]*schema.Table, len(desired))
	seenPlugin := make(map[string]bool)
	for _, t := range desired {
		declared[t.QualifiedName()] = t
		result.Owners[t.QualifiedName()] = t.Plugin
		if !seenPlugin[t.Plugin] {
			seenPlugin[t.Plugin] = true
			result.Plugins = append(result.Plugins, t.Plugin)
		}
	}

	var structural, deferred []Operation
	failures := make(map[string][]error)

	for _, t := range desired {
		live := existing.Table(t.QualifiedName())

		ops, errs := p.diffTable(t, live)
		structural = append(structural, ops...)
		failures[t.Plugin] = append(failures[t.Plugin], errs...)

		for _, fk := range t.ForeignKeys {
			if live != nil && live.HasForeignKey(fk) {
				continue
			}
			if err := checkReference(t, fk, declared, existing); err != nil {
				failures[t.Plugin] = append(failures[t.Plugin], err)
				continue
			}
			deferred = append(deferred, AddForeignKey{Target: t, ForeignKey: fk})
		}
	}

	result.Operations = append(structural, deferred...)
	for _, plugin := range result.Plugins {
		if errs := failures[plugin]; len(errs) > 0 {
			err := errors.Join(errs...)
			if len(errs) == 1 {
				err = errs[0]
			}
			p.logger.Warn().Str("plugin", plugin).Err(err).Msg("plugin withdrawn from plan")
			result.Fail(plugin, err)
		}
	}

	p.logger.Debug().
		Int("operations", len(result.Operations)).
		Int("plugins", len(result.Plugins)).
		Int("failed", len(result.Failures)).
		Msg("plan computed")
	return result
}

func (p *Planner) diffTable(t, live *schema.Table) ([]Operation, []error) {
	if live == nil {
		return []Operation{CreateTable{Target: t}}, nil
	}

	var ops []Operation
	var errs []error
	for _, col := range t.Columns {
		existing, ok := live.Column(col.Name)
		if !ok {
			ops = append(ops, AddColumn{Target: t, Column: col})
			continue
		}
		if existing.NativeType != "" && p.types != nil && !p.types.Compatible(col.Type, existing.NativeType) {
			errs = append(errs, &errdefs.SchemaConflictError{
				Plugin:       t.Plugin,
				Table:        t.QualifiedName().String(),
				Column:       col.Name,
				DeclaredType: col.Type.String(),
				ExistingType: existing.NativeType,
			})
		}
	}
	for _, idx := range t.Indexes {
		if _, ok := live.Index(idx.Name); !ok {
			ops = append(ops, CreateIndex{Target: t, Index: idx})
		}
	}
	for _, check := range t.Checks {
		if _, ok := live.Check(check.Name); !ok {
			ops = append(ops, AddCheckConstraint{Target: t, Check: check})
		}
	}
	return ops, errs
}

// checkReference verifies that the referenced table and columns will exist
func checkReference(t *schema.Table, fk schema.ForeignKey, declared map[schema.QualifiedName]*schema.Table, existing *schema.Snapshot) error {
	target := declared[fk.RefTable]
	if target == nil {
		target = existing.Table(fk.RefTable)
	}
	if target == nil {
		return &errdefs.SchemaParseError{
			Plugin: t.Plugin,
			Table:  t.QualifiedName().String(),
			Column: strings.Join(fk.Columns, ","),
			Reason: fmt.Sprintf("foreign key %s references unknown table %s", fk.Name, fk.RefTable),
		}
	}
	if !target.HasColumns(fk.RefColumns) {
		return &errdefs.SchemaParseError{
			Plugin: t.Plugin,
			Table:  t.QualifiedName().String(),
			Column: strings.Join(fk.Columns, ","),
			Reason: fmt.Sprintf("foreign key %s references unknown columns %s(%s)", fk.Name, fk.RefTable, strings.Join(fk.RefColumns, ",")),
		}
	}
	return nil
}
