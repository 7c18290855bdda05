package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/backfill"
	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/store"
)

// BackfillSummary is one backfill in CLI output.
type BackfillSummary struct {
	ID        string                  `json:"id"`
	Status    ir.BackfillStatus       `json:"status"`
	Kind      ir.BackfillTargetKind   `json:"kind"`
	Counts    map[ir.TargetStatus]int `json:"counts"`
	Error     *ir.ErrorInfo           `json:"error,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Target    *ir.BackfillTarget      `json:"target,omitempty"`
	Targets   []ir.TargetState        `json:"targets,omitempty"`
}

func summarizeBackfill(b ir.PartitionBackfill, detail bool) BackfillSummary {
	s := BackfillSummary{
		ID:        b.ID,
		Status:    b.Status,
		Kind:      b.Target.Kind,
		Counts:    b.Cursor.Counts(),
		Error:     b.Error,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if detail {
		target := b.Target
		s.Target = &target
		s.Targets = b.Cursor.Targets
	}
	return s
}

// NewBackfillCommand creates the backfill command group.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Submit and manage partition backfills",
		Long: `Submit and manage partition backfills. Backfills are advanced by the
daemon (cadence run) or by a single cadence tick.`,
	}

	cmd.AddCommand(newBackfillSubmitCommand(rootOpts))
	cmd.AddCommand(newBackfillListCommand(rootOpts))
	cmd.AddCommand(newBackfillShowCommand(rootOpts))
	cmd.AddCommand(newBackfillTransitionCommand(rootOpts, "cancel",
		"Cancel a backfill; in-flight runs finish first", backfill.Cancel))
	cmd.AddCommand(newBackfillTransitionCommand(rootOpts, "requeue",
		"Re-request the failed and canceled targets of a finished backfill", backfill.Requeue))

	return cmd
}

// BackfillSubmitOptions holds flags for backfill submit.
type BackfillSubmitOptions struct {
	*RootOptions
	Assets []string
	Start  string
	End    string
	Keys   []string
	Graph  bool

	// Downstream and Upstream widen a --graph selection along dependencies.
	Downstream bool
	Upstream   bool
}

func newBackfillSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillSubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a backfill",
		Long: `Submit a backfill over one or more assets.

By default every selected partition of every --asset is requested once, in
dependency order. With --graph the listed assets are driven by their own
scheduling conditions until nothing more is requested.

Example:
  cadence backfill submit --asset raw/events --start 2024-01-01 --end 2024-01-31
  cadence backfill submit --asset raw/events --asset daily/summary --keys 2024-01-03
  cadence backfill submit --graph --asset daily/summary
  cadence backfill submit --graph --downstream --asset raw/events`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runBackfillSubmit(cmd, e, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Assets, "asset", "a", nil, "asset to backfill (repeatable, required)")
	cmd.Flags().StringVar(&opts.Start, "start", "", "first partition key (inclusive)")
	cmd.Flags().StringVar(&opts.End, "end", "", "last partition key (inclusive)")
	cmd.Flags().StringSliceVar(&opts.Keys, "keys", nil, "explicit partition keys")
	cmd.Flags().BoolVar(&opts.Graph, "graph", false, "drive the assets by their scheduling conditions")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "with --graph, add every asset downstream of --asset")
	cmd.Flags().BoolVar(&opts.Upstream, "upstream", false, "with --graph, add every asset upstream of --asset")
	_ = cmd.MarkFlagRequired("asset")
	cmd.MarkFlagsMutuallyExclusive("graph", "start")
	cmd.MarkFlagsMutuallyExclusive("graph", "end")
	cmd.MarkFlagsMutuallyExclusive("graph", "keys")

	return cmd
}

func (o *BackfillSubmitOptions) target() (ir.BackfillTarget, error) {
	assets := make([]ir.AssetKey, 0, len(o.Assets))
	for _, a := range o.Assets {
		key, err := ir.ParseAssetKey(a)
		if err != nil {
			return ir.BackfillTarget{}, err
		}
		assets = append(assets, key)
	}
	if o.Graph {
		return ir.BackfillTarget{Kind: ir.TargetGraph, Assets: assets}, nil
	}

	keys := make([]ir.PartitionKey, len(o.Keys))
	for i, k := range o.Keys {
		keys[i] = ir.PartitionKey(k)
	}
	target := ir.BackfillTarget{Kind: ir.TargetExplicit}
	for _, a := range assets {
		target.Ranges = append(target.Ranges, ir.PartitionRange{
			Asset: a,
			Start: ir.PartitionKey(o.Start),
			End:   ir.PartitionKey(o.End),
			Keys:  keys,
		})
	}
	return target, nil
}

func runBackfillSubmit(cmd *cobra.Command, e *env, opts *BackfillSubmitOptions) error {
	target, err := opts.target()
	if err != nil {
		return e.out.Fail(ExitCommandError, CodeInvalid, "invalid asset key", err)
	}
	if (opts.Downstream || opts.Upstream) && !opts.Graph {
		return e.out.Fail(ExitCommandError, CodeInvalid, "invalid backfill target",
			errors.New("--downstream and --upstream require --graph"))
	}
	m, err := e.loadManifest()
	if err != nil {
		return err
	}
	target.Assets = expandSelection(m.Graph, target.Assets, opts.Upstream, opts.Downstream)

	b, err := backfill.Submit(cmd.Context(), e.store, m.Graph, e.opts.ids(), target, e.opts.now())
	if err != nil {
		if errors.Is(err, backfill.ErrInvalidTarget) {
			return e.out.Fail(ExitCommandError, CodeInvalid, "invalid backfill target", err)
		}
		return e.out.Fail(ExitCommandError, CodeStore, "failed to submit backfill", err)
	}
	e.logger.Info("backfill submitted", "backfill_id", b.ID, "kind", string(target.Kind))

	return e.out.Emit(summarizeBackfill(b, false), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Submitted backfill %s (%s)\n", b.ID, target.Kind)
		return err
	})
}

// expandSelection adds the transitive upstream and downstream assets of
// keys. Unknown keys are kept so Submit reports them.
func expandSelection(g *graph.Graph, keys []ir.AssetKey, upstream, downstream bool) []ir.AssetKey {
	if !upstream && !downstream {
		return keys
	}
	seen := make(map[ir.AssetKey]bool)
	for _, k := range keys {
		seen[k] = true
	}
	if upstream {
		for _, k := range g.Upstream(keys...) {
			seen[k] = true
		}
	}
	if downstream {
		for _, k := range g.Downstream(keys...) {
			seen[k] = true
		}
	}
	out := make([]ir.AssetKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	ir.SortAssetKeys(out)
	return out
}

// BackfillListOptions holds flags for backfill list.
type BackfillListOptions struct {
	*RootOptions
	Statuses []string
}

func newBackfillListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List backfills",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runBackfillList(cmd, e, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "filter by status (repeatable)")

	return cmd
}

func runBackfillList(cmd *cobra.Command, e *env, opts *BackfillListOptions) error {
	var statuses []ir.BackfillStatus
	for _, s := range opts.Statuses {
		st, err := ir.ParseBackfillStatus(s)
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeInvalid, "invalid status filter", err)
		}
		statuses = append(statuses, st)
	}

	backfills, err := e.store.LoadBackfills(cmd.Context(), statuses...)
	if err != nil {
		return e.out.Fail(ExitCommandError, CodeStore, "failed to list backfills", err)
	}
	summaries := make([]BackfillSummary, len(backfills))
	for i, b := range backfills {
		summaries[i] = summarizeBackfill(b, false)
	}

	return e.out.Emit(summaries, func(w io.Writer) error {
		if len(summaries) == 0 {
			_, err := fmt.Fprintln(w, "No backfills")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tKIND\tPROGRESS\tCREATED")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Status, s.Kind, formatCounts(s.Counts), s.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

func newBackfillShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a backfill and its targets",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()

			b, err := backfill.Get(cmd.Context(), e.store, args[0])
			if err != nil {
				return e.backfillError(err)
			}
			s := summarizeBackfill(b, true)
			return e.out.Emit(s, func(w io.Writer) error { return renderBackfill(w, s) })
		},
	}
}

func newBackfillTransitionCommand(
	rootOpts *RootOptions,
	name, short string,
	fn func(ctx context.Context, st *store.Store, id string, now time.Time) (ir.PartitionBackfill, error),
) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()

			b, err := fn(cmd.Context(), e.store, args[0], e.opts.now())
			if err != nil {
				return e.backfillError(err)
			}
			e.logger.Info("backfill updated", "backfill_id", b.ID, "action", name, "status", string(b.Status))
			return e.out.Emit(summarizeBackfill(b, false), func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Backfill %s is %s\n", b.ID, b.Status)
				return err
			})
		},
	}
}

func (e *env) backfillError(err error) error {
	switch {
	case errors.Is(err, backfill.ErrBackfillNotFound):
		return e.out.Fail(ExitCommandError, CodeNotFound, "backfill not found", err)
	case errors.Is(err, backfill.ErrInvalidTransition):
		return e.out.Fail(ExitFailure, CodeInvalid, "invalid transition", err)
	default:
		return e.out.Fail(ExitCommandError, CodeStore, "backfill operation failed", err)
	}
}

var targetStatusOrder = []ir.TargetStatus{
	ir.TargetPending,
	ir.TargetRequested,
	ir.TargetSucceeded,
	ir.TargetFailed,
	ir.TargetCanceled,
}

func formatCounts(counts map[ir.TargetStatus]int) string {
	var parts []string
	for _, st := range targetStatusOrder {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", st, n))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func renderBackfill(w io.Writer, s BackfillSummary) error {
	fmt.Fprintf(w, "Backfill %s\n", s.ID)
	fmt.Fprintf(w, "  Status:   %s\n", s.Status)
	fmt.Fprintf(w, "  Kind:     %s\n", s.Kind)
	fmt.Fprintf(w, "  Created:  %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Updated:  %s\n", s.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Progress: %s\n", formatCounts(s.Counts))
	if s.Error != nil {
		fmt.Fprintf(w, "  Error:    %s: %s\n", s.Error.Kind, s.Error.Message)
	}
	if s.Target != nil && s.Target.Kind == ir.TargetGraph {
		assets := make([]string, len(s.Target.Assets))
		for i, a := range s.Target.Assets {
			assets[i] = string(a)
		}
		slices.Sort(assets)
		fmt.Fprintf(w, "  Assets:   %s\n", strings.Join(assets, ","))
	}
	if len(s.Targets) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSTATUS\tATTEMPT\tRUN\tREASON")
	for _, t := range s.Targets {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			t.AssetPartition(), t.Status, t.Attempt, dashIfEmpty(t.RunID), dashIfEmpty(t.Reason))
	}
	return tw.Flush()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
