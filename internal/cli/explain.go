package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/scheduler"
)

// explainScope is never committed, so every partition is evaluated.
const explainScope = "explain"

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Partition string
}

// ExplainOutput is the JSON payload of the explain command.
type ExplainOutput struct {
	Asset       ir.AssetKey            `json:"asset"`
	Condition   string                 `json:"condition"`
	Partitions  int                    `json:"partitions"`
	Requested   []ir.PartitionKey      `json:"requested,omitempty"`
	Explanation *condition.Explanation `json:"explanation,omitempty"`
	Results     []condition.Result     `json:"results,omitempty"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <asset>",
		Short: "Explain an asset's scheduling condition",
		Long: `Evaluate an asset's condition against the current state without launching
anything or moving cursors, and show how many partitions satisfy each node.

Example:
  cadence explain daily/summary
  cadence explain daily/summary --partition 2024-01-03 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.close()
			return runExplain(cmd, e, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "explain a single partition")

	return cmd
}

func runExplain(cmd *cobra.Command, e *env, opts *ExplainOptions, arg string) error {
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
	if node.Condition == nil {
		return e.out.Fail(ExitFailure, CodeInvalid, fmt.Sprintf("asset %s has no condition", asset), nil)
	}

	ev, err := scheduler.New(m.Graph, e.store, e.store,
		scheduler.WithScope(explainScope),
		scheduler.WithWorkers(e.cfg.Evaluation.Workers),
		scheduler.WithLogger(e.logger),
	)
	if err != nil {
		return e.out.Fail(ExitCommandError, CodeTick, "failed to build evaluator", err)
	}
	res, err := ev.Tick(cmd.Context(), e.opts.now())
	if err != nil {
		return e.out.Fail(ExitFailure, CodeTick, "evaluation failed", err)
	}
	for _, evalErr := range res.Errors {
		if evalErr.Asset == asset {
			return e.out.Fail(ExitFailure, CodeTick, "evaluation failed", evalErr)
		}
	}
	eval, ok := res.Evaluation(asset)
	if !ok {
		return e.out.Fail(ExitFailure, CodeTick, fmt.Sprintf("asset %s was not evaluated", asset), nil)
	}

	result := ExplainOutput{
		Asset:      asset,
		Condition:  eval.Condition,
		Partitions: eval.Partitions,
		Requested:  eval.Requested,
	}
	results := eval.Results
	if opts.Partition != "" {
		results = nil
		for _, r := range eval.Results {
			if r.Partition == ir.PartitionKey(opts.Partition) {
				results = append(results, r)
			}
		}
		if len(results) == 0 {
			return e.out.Fail(ExitCommandError, CodeNotFound,
				fmt.Sprintf("partition %q of %s was not evaluated", opts.Partition, asset), nil)
		}
		result.Results = results
	}
	result.Explanation = condition.Explain(results)

	return e.out.Emit(result, func(w io.Writer) error {
		fmt.Fprintf(w, "%s: %s\n", asset, result.Condition)
		fmt.Fprintf(w, "Partitions: %d, requested: %d\n\n", result.Partitions, len(result.Requested))
		if result.Explanation == nil {
			fmt.Fprintln(w, "No partitions evaluated")
			return nil
		}
		return result.Explanation.Render(w)
	})
}
