package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/telemetry"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduling daemon",
		Long: `Start the scheduling daemon. Every tick interval the manifest is reloaded,
conditions are evaluated, runs are launched and backfills are advanced.
A manifest that fails to reload leaves the previous graph in service.

Example:
  cadence run --config cadence.yaml
  cadence run --db ./cadence.db --manifest ./assets --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runDaemon(cmd, e)
		},
	}
}

func runDaemon(cmd *cobra.Command, e *env) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdown, err := telemetry.Setup(ctx, e.cfg.Tracing)
	if err != nil {
		return e.out.Fail(ExitCommandError, CodeConfig, "failed to set up tracing", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdown(flushCtx); err != nil {
			e.logger.Error("error flushing traces", "error", err)
		}
	}()

	d, err := e.newDaemon()
	if err != nil {
		return err
	}
	if err := d.Reload(); err != nil {
		return e.out.Fail(ExitFailure, CodeManifest, "failed to load manifest", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon started. Ticking every %s.\n", e.cfg.TickInterval)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := d.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}
	e.logger.Info("daemon stopped gracefully")
	return nil
}
