package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/ir"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Partition   string
	At          string
	Observation bool
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <asset>",
		Short: "Record a materialization or observation",
		Long: `Record that an asset partition was updated outside of cadence.

With --observation the record is an observation and --at is the time the
observed data was last updated.

Example:
  cadence record raw/events --partition 2024-01-03
  cadence record ref/countries --observation --at 2024-01-05T06:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runRecord(cmd, e, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "partition key (empty for unpartitioned assets)")
	cmd.Flags().StringVar(&opts.At, "at", "", "update time in RFC 3339 (default now)")
	cmd.Flags().BoolVar(&opts.Observation, "observation", false, "record an observation instead of a materialization")

	return cmd
}

func runRecord(cmd *cobra.Command, e *env, opts *RecordOptions, arg string) error {
	asset, err := ir.ParseAssetKey(arg)
	if err != nil {
		return e.out.Fail(ExitCommandError, CodeInvalid, "invalid asset key", err)
	}
	at := e.opts.now()
	if opts.At != "" {
		at, err = time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return e.out.Fail(ExitCommandError, CodeInvalid, "invalid --at timestamp", err)
		}
	}

	rec := ir.Record{
		Asset:         asset,
		Partition:     ir.PartitionKey(opts.Partition),
		Timestamp:     at.UTC(),
		IsObservation: opts.Observation,
	}
	if err := e.store.WriteRecord(cmd.Context(), rec); err != nil {
		return e.out.Fail(ExitCommandError, CodeStore, "failed to write record", err)
	}
	e.logger.Debug("record written",
		"asset", string(rec.Asset),
		"partition", string(rec.Partition),
		"observation", rec.IsObservation,
	)

	return e.out.Emit(rec, func(w io.Writer) error {
		kind := "materialization"
		if rec.IsObservation {
			kind = "observation"
		}
		_, err := fmt.Fprintf(w, "Recorded %s of %s at %s\n",
			kind, ir.AP(rec.Asset, rec.Partition), rec.Timestamp.Format(time.RFC3339))
		return err
	})
}
