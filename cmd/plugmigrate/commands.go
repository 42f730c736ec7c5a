package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tordrt/plugmigrate"
	"github.com/tordrt/plugmigrate/internal/formatter"
	"github.com/tordrt/plugmigrate/internal/telemetry"
)

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schemas, err := loadSchemas(cfg.SchemaDirs)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(ctx))

	p, err := s.migrator.Plan(ctx, schemas)
	if err != nil {
		return err
	}

	if cfg.OutputDir != "" {
		multi := formatter.NewMultiFileFormatter(cfg.OutputDir, cfg.Format, s.target.Dialect())
		if err := multi.Format(p); err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		return nil
	}

	f, err := newFormatter(cmd.OutOrStdout(), cfg.Format)
	if err != nil {
		return err
	}
	if err := f.FormatPlan(p); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schemas, err := loadSchemas(cfg.SchemaDirs)
	if err != nil {
		return err
	}

	opts := &plugmigrate.Options{}
	if cfg.MetricsTextfile != "" {
		opts.Metrics = plugmigrate.NewMetrics()
	}
	if traceFile != "" {
		out, err := os.Create(traceFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer func() { _ = out.Close() }()
		tracer, err := telemetry.NewWriterTracer(out)
		if err != nil {
			return err
		}
		defer func() { _ = tracer.Shutdown(context.WithoutCancel(ctx)) }()
		opts.Tracer = tracer
	}

	s, err := openSession(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(ctx))

	report, err := s.migrator.Apply(ctx, schemas)
	if err != nil {
		return err
	}

	if cfg.MetricsTextfile != "" {
		if err := opts.Metrics.WriteToTextfile(cfg.MetricsTextfile); err != nil {
			s.logger.Warn().Err(err).Str("path", cfg.MetricsTextfile).Msg("failed to write metrics")
		}
	}

	f, err := newFormatter(cmd.OutOrStdout(), cfg.Format)
	if err != nil {
		return err
	}
	if err := f.FormatResult(report.Result); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if failed := report.Result.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d plugins failed", len(failed), len(report.Outcomes))
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(ctx))

	snap, err := s.migrator.Snapshot(ctx, cfg.Namespaces)
	if err != nil {
		return err
	}

	f, err := newFormatter(cmd.OutOrStdout(), cfg.Format)
	if err != nil {
		return err
	}
	if err := f.FormatSnapshot(snap); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(ctx))

	var entries []plugmigrate.JournalEntry
	if historyPlugin != "" {
		entries, err = s.migrator.History(ctx, historyPlugin, historyLimit)
	} else {
		entries, err = s.migrator.Status(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	formatter.WriteStatusTable(cmd.OutOrStdout(), entries)
	return nil
}
