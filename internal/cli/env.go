package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/manifest"
	"github.com/roach88/cadence/internal/store"
)

// env is the state shared by commands that touch the database.
type env struct {
	opts   *RootOptions
	cfg    config.Config
	out    *OutputFormatter
	logger *slog.Logger
	store  *store.Store
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads --config and applies the --db and --manifest overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Manifest != "" {
		cfg.Manifest = opts.Manifest
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// openEnv loads config, builds the logger and opens the database.
// Failures are reported through the formatter.
func openEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	out := newFormatter(cmd, opts)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	logger, err := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "invalid log config", err)
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}

	return &env{
		opts:   opts,
		cfg:    cfg,
		out:    out,
		logger: logger,
		store:  st,
	}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

// loadManifest compiles the configured manifest directory.
func (e *env) loadManifest() (*manifest.Manifest, error) {
	mopts, err := e.cfg.ManifestOptions()
	if err != nil {
		return nil, e.out.Fail(ExitCommandError, CodeConfig, "invalid condition config", err)
	}
	e.logger.Debug("loading manifest", "dir", e.cfg.Manifest)
	m, err := manifest.Load(e.cfg.Manifest, mopts)
	if err != nil {
		return nil, e.out.Fail(ExitFailure, CodeManifest, "failed to load manifest", err)
	}
	return m, nil
}
