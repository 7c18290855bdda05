package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/launcher"
	"github.com/roach88/cadence/internal/store"
)

// NewRunsCommand creates the runs command group. Runs are the work items
// the scheduler hands to an external executor; these commands let that
// executor (or an operator) report progress.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs and report their outcome",
	}

	cmd.AddCommand(newRunsListCommand(rootOpts))
	cmd.AddCommand(newRunsStartCommand(rootOpts))
	cmd.AddCommand(newRunsCompleteCommand(rootOpts))

	return cmd
}

// RunsListOptions holds flags for runs list.
type RunsListOptions struct {
	*RootOptions
	Statuses   []string
	Asset      string
	BackfillID string
	Limit      int
}

func newRunsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Long: `List runs, oldest first.

Example:
  cadence runs list --status pending
  cadence runs list --asset daily/summary --limit 20
  cadence runs list --backfill 0190f0a2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runRunsList(cmd, e, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&opts.Asset, "asset", "", "filter by asset")
	cmd.Flags().StringVar(&opts.BackfillID, "backfill", "", "filter by backfill id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of runs (0 for all)")

	return cmd
}

func runRunsList(cmd *cobra.Command, e *env, opts *RunsListOptions) error {
	filter := store.RunFilter{BackfillID: opts.BackfillID, Limit: opts.Limit}
	for _, s := range opts.Statuses {
		st, err := ir.ParseRunStatus(s)
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeInvalid, "invalid status filter", err)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if opts.Asset != "" {
		asset, err := ir.ParseAssetKey(opts.Asset)
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeInvalid, "invalid asset key", err)
		}
		filter.Asset = asset
	}

	runs, err := e.store.ListRuns(cmd.Context(), filter)
	if err != nil {
		return e.out.Fail(ExitCommandError, CodeStore, "failed to list runs", err)
	}
	if runs == nil {
		runs = []ir.Run{}
	}

	return e.out.Emit(runs, func(w io.Writer) error {
		if len(runs) == 0 {
			_, err := fmt.Fprintln(w, "No runs")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTARGET\tSTATUS\tBACKFILL\tUPDATED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.AssetPartition(), r.Status, dashIfEmpty(r.BackfillID), r.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

func newRunsStartCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "start <run-id>",
		Short:         "Mark a pending run as running",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()

			run, err := e.queue().Start(cmd.Context(), args[0])
			if err != nil {
				return e.runError(err)
			}
			return emitRun(e.out, run)
		},
	}
}

// RunsCompleteOptions holds flags for runs complete.
type RunsCompleteOptions struct {
	*RootOptions
	Status string
}

func newRunsCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsCompleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "complete <run-id>",
		Short: "Record a run's outcome",
		Long: `Record a run's terminal status. A succeeded run also records a
materialization of its asset partition.

Example:
  cadence runs complete 0190f0a2-... --status succeeded
  cadence runs complete 0190f0a2-... --status failed`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()

			status, err := ir.ParseRunStatus(opts.Status)
			if err != nil || !status.IsTerminal() {
				return e.out.Fail(ExitCommandError, CodeInvalid,
					fmt.Sprintf("invalid status %q: must be succeeded, failed or canceled", opts.Status), nil)
			}
			run, err := e.queue().Complete(cmd.Context(), args[0], status)
			if err != nil {
				return e.runError(err)
			}
			return emitRun(e.out, run)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "succeeded", "terminal status (succeeded|failed|canceled)")

	return cmd
}

func (e *env) queue() *launcher.Queue {
	return launcher.NewQueue(e.store,
		launcher.WithIDGenerator(e.opts.ids()),
		launcher.WithClock(e.opts.now),
		launcher.WithLogger(e.logger),
	)
}

func (e *env) runError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return e.out.Fail(ExitCommandError, CodeNotFound, "run not found", err)
	case errors.Is(err, store.ErrTerminalRun):
		return e.out.Fail(ExitFailure, CodeInvalid, "run already finished", err)
	default:
		return e.out.Fail(ExitCommandError, CodeStore, "run update failed", err)
	}
}

func emitRun(out *OutputFormatter, run ir.Run) error {
	return out.Emit(run, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Run %s (%s) is %s\n", run.ID, run.AssetPartition(), run.Status)
		return err
	})
}
