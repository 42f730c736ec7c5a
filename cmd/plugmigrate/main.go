package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tordrt/plugmigrate"
	"github.com/tordrt/plugmigrate/internal/config"
	"github.com/tordrt/plugmigrate/internal/formatter"
	"github.com/tordrt/plugmigrate/internal/telemetry"
)

var (
	configPath      string
	dbURL           string
	schemaDirs      []string
	format          string
	outputDir       string
	timeout         time.Duration
	noLock          bool
	noJournal       bool
	logLevel        string
	logFormat       string
	metricsTextfile string
	traceFile       string
	namespaces      []string
	historyPlugin   string
	historyLimit    int
)

// newRootCmd builds the command tree. Binding the flags again resets every flag
// variable to its default.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "plugmigrate",
		Short:         "Apply plugin-declared schemas with additive-only migrations",
		Long:          `plugmigrate reconciles the table declarations of plugins against a PostgreSQL, MySQL, or SQLite database. It creates missing tables, columns, indexes, checks and foreign keys, and never drops or alters existing structure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the operations apply would run",
		RunE:  runPlan,
	}

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply every declared schema",
		RunE:  runApply,
	}

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the live catalog of plugin namespaces",
		RunE:  runSnapshot,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest journaled outcome of every plugin",
		RunE:  runStatus,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&dbURL, "db-url", "", "Database URL (postgres://, mysql://, or sqlite://)")
	pf.StringArrayVar(&schemaDirs, "schema-dir", nil, "Directory of plugin schema YAML files (repeatable)")
	pf.StringVarP(&format, "format", "f", "text", "Output format: text or markdown")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "Timeout of a single schema operation")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, or error")
	pf.StringVar(&logFormat, "log-format", "console", "Log format: console or json")
	pf.StringSliceVar(&namespaces, "namespace", nil, "Namespaces to read (default: all)")

	planCmd.Flags().StringVarP(&outputDir, "output-dir", "d", "", "Write one SQL script per plugin into this directory")

	applyCmd.Flags().BoolVar(&noLock, "no-lock", false, "Skip the migration lock")
	applyCmd.Flags().BoolVar(&noJournal, "no-journal", false, "Do not record outcomes in the plugmigrate_runs table")
	applyCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the run")
	applyCmd.Flags().StringVar(&traceFile, "trace-file", "", "Write OpenTelemetry spans as JSON to this file")

	statusCmd.Flags().StringVar(&historyPlugin, "plugin", "", "Show the run history of one plugin")
	statusCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of history entries with --plugin")

	rootCmd.AddCommand(planCmd, applyCmd, snapshotCmd, statusCmd)
	return rootCmd
}

// loadConfig reads the config file and lets explicitly set flags override it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("schema-dir") {
		cfg.SchemaDirs = schemaDirs
	}
	if flags.Changed("format") {
		cfg.Format = format
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("timeout") {
		cfg.OperationTimeout = timeout
	}
	if flags.Changed("no-lock") {
		cfg.DisableLock = noLock
	}
	if flags.Changed("no-journal") {
		cfg.DisableJournal = noJournal
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("metrics-textfile") {
		cfg.MetricsTextfile = metricsTextfile
	}
	if flags.Changed("namespace") {
		cfg.Namespaces = namespaces
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadSchemas reads every schema directory in order
func loadSchemas(dirs []string) ([]plugmigrate.PluginSchema, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one --schema-dir must be specified")
	}
	var schemas []plugmigrate.PluginSchema
	for _, dir := range dirs {
		loaded, err := plugmigrate.LoadSchemaDir(dir)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, loaded...)
	}
	return schemas, nil
}

// session is an open database plus the migrator built from the configuration
type session struct {
	cfg      *config.Config
	logger   zerolog.Logger
	target   plugmigrate.Target
	migrator *plugmigrate.Migrator
}

func openSession(ctx context.Context, cfg *config.Config, opts *plugmigrate.Options) (*session, error) {
	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	target, err := plugmigrate.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if opts == nil {
		opts = &plugmigrate.Options{}
	}
	opts.Logger = logger
	opts.OperationTimeout = cfg.OperationTimeout
	opts.DisableLock = cfg.DisableLock
	opts.DisableJournal = cfg.DisableJournal
	opts.LockKey = cfg.LockKey

	return &session{
		cfg:      cfg,
		logger:   logger,
		target:   target,
		migrator: plugmigrate.NewMigrator(target, opts),
	}, nil
}

func (s *session) Close(ctx context.Context) {
	if err := s.target.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close database connection")
	}
}

// resultFormatter is implemented by both single-stream formatters
type resultFormatter interface {
	FormatPlan(p *plugmigrate.Plan) error
	FormatResult(r *plugmigrate.Result) error
	FormatSnapshot(s *plugmigrate.Snapshot) error
}

func newFormatter(w io.Writer, format string) (resultFormatter, error) {
	switch format {
	case "text":
		return formatter.NewTextFormatter(w), nil
	case "markdown":
		return formatter.NewMarkdownFormatter(w), nil
	default:
		return nil, fmt.Errorf("invalid format: %s (must be 'text' or 'markdown')", format)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
