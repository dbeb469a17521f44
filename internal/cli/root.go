package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/config"
	"github.com/rubrica-app/rubrica/internal/grader"
	"github.com/rubrica-app/rubrica/internal/orchestrator"
	"github.com/rubrica-app/rubrica/internal/scorer"
	"github.com/rubrica-app/rubrica/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	LogFile    string

	// NewScorer overrides the model client (for testing).
	// If nil, commands that grade build a scorer.Client from the config.
	NewScorer func(cfg config.Config, logger *slog.Logger) (grader.Scorer, error)

	// RunIDs overrides the run identifier generator (for testing).
	// If nil, defaults to orchestrator.UUIDv7Generator.
	RunIDs orchestrator.RunIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rubrica CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith creates the root command around caller-owned options.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rubrica",
		Short: "Rubrica - rubric-based exam grading",
		Long: `Grade scanned, anonymized exams against versioned rubrics with a
vision-capable language model, and export auditable grade records.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "JSON config file (default "+config.DefaultFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "append logs to this file (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewRubricCommand(opts))
	cmd.AddCommand(NewExamCommand(opts))
	cmd.AddCommand(NewGradeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewCompareCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// env is what a command needs once configuration is resolved.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	out     *OutputFormatter
	store   *store.Store
	closers []io.Closer
}

// open loads configuration, installs the logger and opens the store.
func (o *RootOptions) open(cmd *cobra.Command) (*env, error) {
	out := o.formatter(cmd)

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, out.fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	if cmd.Flags().Changed("db") {
		cfg.DB = o.Database
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = o.LogFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, out.fail(ExitCommandError, CodeConfig, "invalid config", err)
	}

	e := &env{cfg: cfg, out: out}

	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	var w io.Writer = cmd.ErrOrStderr()
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, out.fail(ExitCommandError, CodeConfig, "failed to open log file", err)
		}
		e.closers = append(e.closers, f)
		w = io.MultiWriter(w, f)
	}
	e.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(e.logger)

	e.logger.Debug("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		e.Close()
		return nil, out.fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	e.store = st
	e.closers = append(e.closers, st)
	return e, nil
}

// Close releases the store and log file, newest first.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && e.logger != nil {
			e.logger.Error("error closing resource", "error", err)
		}
	}
}

// orchestrator wires scorer, grader and worker pool for commands that grade.
func (o *RootOptions) orchestrator(e *env) (*orchestrator.Orchestrator, error) {
	var s grader.Scorer
	switch {
	case o.NewScorer != nil:
		var err error
		if s, err = o.NewScorer(e.cfg, e.logger); err != nil {
			return nil, e.out.fail(ExitCommandError, CodeConfig, "failed to create scorer", err)
		}
	case e.cfg.APIKey == "":
		return nil, e.out.fail(ExitCommandError, CodeMissingKey,
			"no API key: set "+config.APIKeyEnv+" or "+config.EnvPrefix+"_API_KEY", nil)
	default:
		s = scorer.New(e.cfg.Scorer(e.logger))
	}

	g := grader.New(s, grader.Options{Logger: e.logger})
	return orchestrator.New(e.store, g, orchestrator.Options{
		Workers: e.cfg.Workers,
		RunIDs:  o.RunIDs,
		Logger:  e.logger,
	}), nil
}
