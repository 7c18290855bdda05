package manifest

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cadence/internal/ir"
)

var (
	// ErrNoFiles is returned when a manifest directory has no CUE files.
	ErrNoFiles = errors.New("no CUE files found")

	// ErrNoAssets is returned when a manifest defines no assets.
	ErrNoAssets = errors.New("no assets defined")
)

// CompileError is one problem in a manifest, located at Pos when known.
type CompileError struct {
	Asset   ir.AssetKey
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Asset != "" {
		fmt.Fprintf(&b, "asset %s: ", e.Asset)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Message)
	return b.String()
}

// Errors is the full list of problems found by Compile.
type Errors []*CompileError

func (es Errors) Error() string {
	switch len(es) {
	case 0:
		return "no errors"
	case 1:
		return es[0].Error()
	}
	lines := make([]string, len(es))
	for i, e := range es {
		lines[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n  %s", len(es), strings.Join(lines, "\n  "))
}

// AsCompileErrors flattens err into its CompileErrors. Errors of any
// other type are wrapped in a CompileError without a position.
func AsCompileErrors(err error) []*CompileError {
	if err == nil {
		return nil
	}
	var es Errors
	if errors.As(err, &es) {
		return es
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		return []*CompileError{ce}
	}
	return []*CompileError{{Message: err.Error()}}
}

// fromCUE converts a CUE evaluation error, keeping the first position.
func fromCUE(asset ir.AssetKey, field string, err error) *CompileError {
	ce := &CompileError{Asset: asset, Field: field, Message: err.Error()}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return ce
	}
	first := errs[0]
	ce.Message = first.Error()
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
