package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// FreshnessOptions holds flags for the freshness command.
type FreshnessOptions struct {
	*RootOptions
	DeadlineCron string
	Timezone     string
}

// FreshnessOutput is the JSON payload of the freshness command.
type FreshnessOutput struct {
	Asset       ir.AssetKey     `json:"asset"`
	Fresh       bool            `json:"fresh"`
	Deadline    time.Time       `json:"deadline"`
	Expected    ir.PartitionKey `json:"expected_partition,omitempty"`
	LastUpdated *time.Time      `json:"last_updated,omitempty"`
}

// NewFreshnessCommand creates the freshness command.
func NewFreshnessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FreshnessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "freshness <asset>",
		Short: "Check that an asset arrived by its deadline",
		Long: `Check an asset against a deadline schedule. For time-window partitioned
assets the partition that must exist by the latest deadline tick is checked;
otherwise the asset must have been updated at or after that tick.

Exits 1 when the asset is stale.

Example:
  cadence freshness daily/summary --deadline-cron "0 9 * * *"
  cadence freshness ref/countries --deadline-cron "0 6 * * 1" --timezone Europe/Berlin`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runFreshness(cmd, e, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DeadlineCron, "deadline-cron", "", "cron schedule of the arrival deadline (required)")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "UTC", "timezone of the deadline schedule")
	_ = cmd.MarkFlagRequired("deadline-cron")

	return cmd
}

func runFreshness(cmd *cobra.Command, e *env, opts *FreshnessOptions, arg string) error {
	asset, err := ir.ParseAssetKey(arg)
	if err != nil {
		return e.out.Fail(ExitCommandError, CodeInvalid, "invalid asset key", err)
	}
	m, err := e.loadManifest()
	if err != nil {
		return err
	}
	node, ok := m.Graph.Get(asset)
	if !ok {
		return e.out.Fail(ExitCommandError, CodeNotFound, fmt.Sprintf("unknown asset %s", asset), nil)
	}

	ctx := cmd.Context()
	now := e.opts.now()
	result := FreshnessOutput{Asset: asset}

	var rec *ir.Record
	if node.Partitions.IsTimeWindow() {
		tick, window, err := timewindow.ExpectedPartition(opts.DeadlineCron, opts.Timezone, now, node.Partitions)
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeInvalid, "cannot resolve expected partition", err)
		}
		result.Deadline = tick
		result.Expected = window.Key
		rec, err = e.store.LatestRecord(ctx, ir.AP(asset, window.Key))
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeStore, "failed to read records", err)
		}
		result.Fresh = rec != nil
	} else {
		tick, err := timewindow.LatestCompletedTick(opts.DeadlineCron, now, opts.Timezone)
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeInvalid, "invalid deadline schedule", err)
		}
		result.Deadline = tick
		rec, err = e.store.LatestAssetRecord(ctx, asset)
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeStore, "failed to read records", err)
		}
		result.Fresh = rec != nil && !rec.Timestamp.Before(tick)
	}
	if rec != nil {
		ts := rec.Timestamp.UTC()
		result.LastUpdated = &ts
	}

	e.logger.Debug("freshness checked",
		"asset", string(asset),
		"deadline", result.Deadline,
		"expected_partition", string(result.Expected),
		"fresh", result.Fresh,
	)

	if err := e.out.Emit(result, func(w io.Writer) error {
		mark, state := "✓", "fresh"
		if !result.Fresh {
			mark, state = "✗", "stale"
		}
		target := string(asset)
		if result.Expected != "" {
			target = ir.AP(asset, result.Expected).String()
		}
		fmt.Fprintf(w, "%s %s is %s (deadline %s)\n", mark, target, state, result.Deadline.Format(time.RFC3339))
		if result.LastUpdated != nil {
			fmt.Fprintf(w, "  last updated %s\n", result.LastUpdated.Format(time.RFC3339))
		} else {
			fmt.Fprintln(w, "  never materialized")
		}
		return nil
	}); err != nil {
		return err
	}
	if !result.Fresh {
		return NewExitError(ExitFailure, fmt.Sprintf("%s is stale", asset))
	}
	return nil
}
