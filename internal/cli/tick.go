package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/backfill"
	"github.com/roach88/cadence/internal/daemon"
	"github.com/roach88/cadence/internal/scheduler"
)

// TickOutput is the JSON payload of the tick command.
type TickOutput struct {
	TickID      int64                    `json:"tick_id"`
	EvaluatedAt time.Time                `json:"evaluated_at"`
	Requests    []scheduler.AssetRequest `json:"requests"`
	Launched    int                      `json:"launched"`
	Committed   bool                     `json:"committed"`
	Errors      []string                 `json:"errors,omitempty"`
	Backfills   []BackfillProgress       `json:"backfills,omitempty"`
	ReloadError string                   `json:"reload_error,omitempty"`
}

// BackfillProgress is one backfill advanced by a tick.
type BackfillProgress struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduling tick",
		Long: `Load the manifest, evaluate every condition once, launch the requested
runs and advance active backfills. Cursors are committed only when every
run was launched.

Example:
  cadence tick --config cadence.yaml
  cadence tick --db ./cadence.db --manifest ./assets --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runTick(cmd, e)
		},
	}
}

// newDaemon builds a daemon from the loaded config.
func (e *env) newDaemon() (*daemon.Daemon, error) {
	mopts, err := e.cfg.ManifestOptions()
	if err != nil {
		return nil, e.out.Fail(ExitCommandError, CodeConfig, "invalid condition config", err)
	}
	return daemon.New(e.store, e.cfg.Manifest,
		daemon.WithClock(e.opts.now),
		daemon.WithInterval(e.cfg.TickInterval),
		daemon.WithManifestOptions(mopts),
		daemon.WithEvaluationWorkers(e.cfg.Evaluation.Workers),
		daemon.WithBackfillOptions(
			backfill.WithWorkers(e.cfg.Backfill.Workers),
			backfill.WithMaxRequestsPerIteration(e.cfg.Backfill.MaxRequestsPerIteration),
		),
		daemon.WithLogger(e.logger),
	), nil
}

func runTick(cmd *cobra.Command, e *env) error {
	d, err := e.newDaemon()
	if err != nil {
		return err
	}
	report, err := d.Tick(cmd.Context())
	if err != nil {
		return e.out.Fail(ExitFailure, CodeTick, "tick failed", err)
	}

	result := tickOutput(report)
	if err := e.out.Emit(result, func(w io.Writer) error { return renderTick(w, result) }); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("tick finished with %d error(s)", len(result.Errors)))
	}
	return nil
}

func tickOutput(r *daemon.TickReport) TickOutput {
	out := TickOutput{
		TickID:      r.TickID,
		EvaluatedAt: r.EvaluatedAt,
		Requests:    r.Requests,
		Launched:    r.Launched,
		Committed:   r.Committed,
	}
	if out.Requests == nil {
		out.Requests = []scheduler.AssetRequest{}
	}
	if r.ReloadErr != nil {
		out.ReloadError = r.ReloadErr.Error()
	}
	for _, err := range r.EvalErrs {
		out.Errors = append(out.Errors, err.Error())
	}
	for _, err := range r.LaunchErrs {
		out.Errors = append(out.Errors, err.Error())
	}
	if r.BackfillErr != nil {
		out.Errors = append(out.Errors, r.BackfillErr.Error())
	}
	for _, p := range r.Backfills {
		bp := BackfillProgress{ID: p.ID, Status: string(p.Status)}
		if p.Err != nil {
			bp.Error = p.Err.Error()
			out.Errors = append(out.Errors, fmt.Sprintf("backfill %s: %v", p.ID, p.Err))
		}
		out.Backfills = append(out.Backfills, bp)
	}
	return out
}

func renderTick(w io.Writer, t TickOutput) error {
	fmt.Fprintf(w, "Tick %d at %s\n", t.TickID, t.EvaluatedAt.Format(time.RFC3339))
	if t.ReloadError != "" {
		fmt.Fprintf(w, "  manifest reload failed, previous graph used: %s\n", t.ReloadError)
	}
	fmt.Fprintf(w, "  Requested: %d\n", len(t.Requests))
	for _, req := range t.Requests {
		fmt.Fprintf(w, "    %s\n", req.AssetPartition())
	}
	fmt.Fprintf(w, "  Launched:  %d\n", t.Launched)
	if !t.Committed {
		fmt.Fprintln(w, "  Cursors not committed; requests will be retried")
	}
	for _, b := range t.Backfills {
		fmt.Fprintf(w, "  Backfill %s: %s\n", b.ID, b.Status)
	}
	for _, e := range t.Errors {
		fmt.Fprintf(w, "  ✗ %s\n", e)
	}
	return nil
}
