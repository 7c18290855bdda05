package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/manifest"
)

// ValidationError is one manifest problem in CLI output.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Asset   string `json:"asset,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Dir    string            `json:"dir"`
	Files  int               `json:"files,omitempty"`
	Assets []string          `json:"assets,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest-dir]",
		Short: "Validate an asset manifest",
		Long: `Compile every asset in a manifest directory and build the asset graph
without touching the database. All problems are reported, each with its
file position when known.

Example:
  cadence validate ./assets
  cadence validate --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args)
		},
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions, args []string) error {
	out := newFormatter(cmd, opts)

	cfg, err := loadConfig(opts)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	dir := cfg.Manifest
	if len(args) == 1 {
		dir = args[0]
	}
	mopts, err := cfg.ManifestOptions()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid condition config", err)
	}

	out.VerboseLog("Validating manifest in %s", dir)
	m, err := manifest.Load(dir, mopts)
	if err != nil {
		return outputValidationErrors(out, dir, manifest.AsCompileErrors(err))
	}

	result := ValidationResult{Valid: true, Dir: dir, Files: m.FileCount}
	for _, key := range m.Graph.Keys() {
		result.Assets = append(result.Assets, string(key))
	}
	return out.Emit(result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "✓ Manifest valid: %d assets in %d files\n", len(result.Assets), result.Files)
		return err
	})
}

func outputValidationErrors(out *OutputFormatter, dir string, errs []*manifest.CompileError) error {
	result := ValidationResult{Dir: dir}
	for _, e := range errs {
		ve := ValidationError{Asset: string(e.Asset), Field: e.Field, Message: e.Message}
		if e.Pos.IsValid() {
			ve.File = filepath.Base(e.Pos.Filename())
			ve.Line = e.Pos.Line()
			ve.Column = e.Pos.Column()
		}
		result.Errors = append(result.Errors, ve)
	}

	if out.Format == "json" {
		if err := out.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: CodeManifest, Message: result.Errors[0].Message},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	w := out.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range result.Errors {
		if e.File != "" {
			fmt.Fprintf(w, "%s:%d:%d\n", e.File, e.Line, e.Column)
		}
		prefix := ""
		if e.Asset != "" {
			prefix = "asset " + e.Asset + ": "
		}
		if e.Field != "" {
			prefix += e.Field + ": "
		}
		fmt.Fprintf(w, "  %s%s\n\n", prefix, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
