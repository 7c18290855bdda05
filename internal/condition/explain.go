package condition

import (
	"fmt"
	"io"
	"strings"
)

// Explanation aggregates per-partition results into one tree of true counts.
// It is advisory output for the CLI and UI.
type Explanation struct {
	Kind        Kind           `json:"kind"`
	Label       string         `json:"label"`
	True        int            `json:"true"`
	Total       int            `json:"total"`
	Diagnostics int            `json:"diagnostics,omitempty"`
	Sample      string         `json:"sample_diagnostic,omitempty"`
	Children    []*Explanation `json:"children,omitempty"`

	occurrence int
}

// Explain merges results of the same tree. It returns nil for no results.
func Explain(results []Result) *Explanation {
	if len(results) == 0 {
		return nil
	}
	root := &Explanation{Kind: results[0].Kind, Label: results[0].Description}
	for _, r := range results {
		root.add(r)
	}
	return root
}

func (e *Explanation) add(r Result) {
	e.Total++
	if r.Value {
		e.True++
	}
	if r.Diagnostic != "" {
		e.Diagnostics++
		if e.Sample == "" {
			e.Sample = r.Diagnostic
		}
	}

	// A dependency node repeats one child per mapped partition; fold them together.
	if r.Kind == KindDependency {
		for _, c := range r.Children {
			e.child(c, 0).add(c)
		}
		return
	}

	seen := make(map[string]int, len(r.Children))
	for _, c := range r.Children {
		n := seen[c.Description]
		seen[c.Description]++
		e.child(c, n).add(c)
	}
}

func (e *Explanation) child(r Result, occurrence int) *Explanation {
	for _, c := range e.Children {
		if c.Label == r.Description && c.occurrence == occurrence {
			return c
		}
	}
	c := &Explanation{Kind: r.Kind, Label: r.Description, occurrence: occurrence}
	e.Children = append(e.Children, c)
	return c
}

// Render writes the tree, one node per line, indented two spaces per level:
//
//	all of [1/2]
//	  missing [1/2]
func (e *Explanation) Render(w io.Writer) error {
	return e.render(w, 0)
}

func (e *Explanation) render(w io.Writer, depth int) error {
	line := fmt.Sprintf("%s%s [%d/%d]", strings.Repeat("  ", depth), e.Label, e.True, e.Total)
	if e.Diagnostics > 0 {
		noun := "diagnostic"
		if e.Diagnostics > 1 {
			noun = "diagnostics"
		}
		line += fmt.Sprintf(" (%d %s: %s)", e.Diagnostics, noun, e.Sample)
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, c := range e.Children {
		if err := c.render(w, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// String renders the tree.
func (e *Explanation) String() string {
	var b strings.Builder
	_ = e.Render(&b)
	return b.String()
}
