// Package migrate applies plans to a live database, one transaction per plugin and pass.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tordrt/plugmigrate/internal/db"
	"github.com/tordrt/plugmigrate/internal/errdefs"
	"github.com/tordrt/plugmigrate/internal/plan"
	"github.com/tordrt/plugmigrate/internal/schema"
	"github.com/tordrt/plugmigrate/internal/telemetry"
)

// DefaultOperationTimeout bounds a single operation when Options leaves it unset
const DefaultOperationTimeout = 30 * time.Second

// Target is the part of db.Target the executor needs
type Target interface {
	Dialect() db.Dialect
	Begin(ctx context.Context, opts db.TxOptions) (db.Tx, error)
}

// Options configures an Executor
type Options struct {
	OperationTimeout time.Duration
	Logger           zerolog.Logger
	Metrics          *telemetry.Metrics
	Tracer           *telemetry.Tracer
}

// Executor applies plans
type Executor struct {
	target  Target
	dialect db.Dialect
	opts    Options
	logger  zerolog.Logger
}

// NewExecutor creates an executor for target
func NewExecutor(target Target, opts Options) *Executor {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	return &Executor{
		target:  target,
		dialect: target.Dialect(),
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "executor").Logger(),
	}
}

const (
	passStructural  = "structural"
	passForeignKeys = "foreign_keys"
)

// Apply runs p in two passes. Every plugin's structural operations run first in one
// transaction per plugin; its foreign keys follow in a second transaction once every
// plugin has created its tables. A failing plugin never stops the others.
func (e *Executor) Apply(ctx context.Context, p *plan.Plan) *Result {
	result := newResult(p)
	for _, plugin := range p.Plugins {
		if err, ok := p.Failures[plugin]; ok {
			result.fail(plugin, err)
		}
	}

	structural := make(map[string][]plan.Operation)
	deferred := make(map[string][]plan.Operation)
	for _, op := range p.Operations {
		plugin := op.Table().Plugin
		if plan.IsDeferred(op) {
			deferred[plugin] = append(deferred[plugin], op)
		} else {
			structural[plugin] = append(structural[plugin], op)
		}
	}

	failed := make(map[string]bool, len(p.Failures))
	for plugin := range p.Failures {
		failed[plugin] = true
	}

	for _, plugin := range p.Plugins {
		if failed[plugin] || len(structural[plugin]) == 0 {
			continue
		}
		if err := e.runUnit(ctx, plugin, passStructural, structural[plugin], result, nil); err != nil {
			failed[plugin] = true
			result.fail(plugin, err)
		}
	}

	// Tables of plugins that failed before or during the structural pass may be missing
	unavailable := make(map[schema.QualifiedName]string)
	for q, owner := range p.Owners {
		if failed[owner] {
			unavailable[q] = owner
		}
	}

	for _, plugin := range p.Plugins {
		if failed[plugin] || len(deferred[plugin]) == 0 {
			continue
		}
		if err := e.runUnit(ctx, plugin, passForeignKeys, deferred[plugin], result, unavailable); err != nil {
			failed[plugin] = true
			result.fail(plugin, err)
		}
	}

	result.finish()
	for _, o := range result.Plugins {
		e.opts.Metrics.RecordPlugin(string(o.Status))
		event := e.logger.Info()
		if o.Status == StatusFailed {
			event = e.logger.Error().Err(o.Err)
		}
		event.Str("plugin", o.Plugin).
			Str("status", string(o.Status)).
			Int("applied", len(o.Applied)).
			Int("skipped", len(o.Skipped)).
			Msg("plugin migrated")
	}
	return result
}

// runUnit applies ops of one plugin in a single transaction
func (e *Executor) runUnit(ctx context.Context, plugin, pass string, ops []plan.Operation, result *Result, unavailable map[schema.QualifiedName]string) (err error) {
	ctx, span := e.opts.Tracer.StartPlugin(ctx, plugin, pass, len(ops))
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	tx, err := e.target.Begin(ctx, db.TxOptions{StatementTimeout: e.opts.OperationTimeout})
	if err != nil {
		return &errdefs.ExecutionError{Plugin: plugin, Err: err}
	}

	var done []plan.Operation
	var applied []bool
	abort := func(err error) error {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		committed := 0
		for i, op := range ops {
			// Without transactional DDL, statements before the failure committed implicitly
			if !e.dialect.TransactionalDDL() && i < len(done) && applied[i] {
				committed++
				result.record(op, true)
				e.opts.Metrics.RecordOperation(string(op.Kind()), "applied")
				continue
			}
			e.opts.Metrics.RecordOperation(string(op.Kind()), "failed")
		}
		if committed == 0 {
			return err
		}
		return fmt.Errorf("%w (%d operations already committed; %s DDL is not transactional)", err, committed, e.dialect.Name())
	}

	for _, op := range ops {
		if fk, ok := op.(plan.AddForeignKey); ok {
			if err := e.checkReferenced(ctx, tx, plugin, fk, unavailable); err != nil {
				return abort(err)
			}
		}
		wasApplied, err := e.applyOperation(ctx, tx, op)
		if err != nil {
			return abort(err)
		}
		done = append(done, op)
		applied = append(applied, wasApplied)
	}

	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return abort(&errdefs.ExecutionError{Plugin: plugin, Err: fmt.Errorf("failed to commit: %w", err)})
	}

	for i, op := range done {
		result.record(op, applied[i])
		if applied[i] {
			e.opts.Metrics.RecordOperation(string(op.Kind()), "applied")
		} else {
			e.opts.Metrics.RecordOperation(string(op.Kind()), "skipped")
		}
	}
	return nil
}

// checkReferenced fails a foreign key whose target belonged to a failed plugin and was never created
func (e *Executor) checkReferenced(ctx context.Context, tx db.Tx, plugin string, op plan.AddForeignKey, unavailable map[schema.QualifiedName]string) error {
	ref := op.ForeignKey.RefTable
	owner, ok := unavailable[ref]
	if !ok || owner == plugin {
		return nil
	}
	probe := plan.CreateTable{Target: &schema.Table{Namespace: ref.Namespace, Name: ref.Name, Plugin: owner}}
	query, args := e.dialect.ExistsQuery(probe)
	if query != "" {
		n, err := tx.Count(ctx, query, args...)
		if err == nil && n > 0 {
			return nil
		}
	}
	return &errdefs.ExecutionError{
		Plugin:    plugin,
		Table:     op.Target.QualifiedName().String(),
		Operation: op.String(),
		Err:       fmt.Errorf("referenced table %s belongs to failed plugin %q", ref, owner),
	}
}

// applyOperation probes for op's object and runs its statements when it is missing.
// It reports whether anything was executed.
func (e *Executor) applyOperation(ctx context.Context, tx db.Tx, op plan.Operation) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.opts.OperationTimeout)
	defer cancel()

	execErr := func(stmt string, err error) error {
		return &errdefs.ExecutionError{
			Plugin:    op.Table().Plugin,
			Table:     op.Table().QualifiedName().String(),
			Operation: op.String(),
			Statement: stmt,
			TimedOut:  ctx.Err() == nil && (db.IsTimeout(err) || errors.Is(opCtx.Err(), context.DeadlineExceeded)),
			Err:       err,
		}
	}

	if query, args := e.dialect.ExistsQuery(op); query != "" {
		n, err := tx.Count(opCtx, query, args...)
		if err != nil {
			return false, execErr(query, fmt.Errorf("failed to probe existing object: %w", err))
		}
		if n > 0 {
			e.logger.Debug().Str("operation", op.String()).Msg("already present, skipping")
			return false, nil
		}
	}

	stmts, err := e.dialect.Statements(op)
	if err != nil {
		return false, execErr("", err)
	}
	for _, stmt := range stmts {
		if err := tx.Exec(opCtx, stmt); err != nil {
			return false, execErr(stmt, err)
		}
	}
	return true, nil
}
