package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/cadence/internal/ir"
)

var (
	// ErrUnknownAsset is returned when a key is not in the graph.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrDuplicateAsset is returned when two nodes share a key.
	ErrDuplicateAsset = errors.New("duplicate asset")

	// ErrInvalidMapping is returned when a partition mapping cannot apply
	// to the partition definitions on either side of a dependency.
	ErrInvalidMapping = errors.New("invalid partition mapping")

	// ErrCycle is returned when dependencies form a cycle.
	ErrCycle = errors.New("dependency cycle")
)

// CycleError reports one dependency cycle.
type CycleError struct {
	Path []ir.AssetKey
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, k := range e.Path {
		parts[i] = string(k)
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}
