package condition

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/timewindow"
)

// Kind identifies a condition variant.
type Kind string

const (
	KindMissing            Kind = "missing"
	KindInLatestTimeWindow Kind = "in_latest_time_window"
	KindParentNewer        Kind = "parent_newer"
	KindUpdatedSinceCron   Kind = "updated_since_cron"
	KindWillBeRequested    Kind = "will_be_requested"
	KindInProgress         Kind = "in_progress"

	KindAnd     Kind = "and"
	KindOr      Kind = "or"
	KindNot     Kind = "not"
	KindAllDeps Kind = "all_deps"
	KindAnyDeps Kind = "any_deps"

	// KindDependency only appears in results: one node per upstream
	// dependency under an all_deps or any_deps node.
	KindDependency Kind = "dependency"
)

// IsLeaf reports whether the kind is a primitive.
func (k Kind) IsLeaf() bool {
	switch k {
	case KindMissing, KindInLatestTimeWindow, KindParentNewer,
		KindUpdatedSinceCron, KindWillBeRequested, KindInProgress:
		return true
	default:
		return false
	}
}

func (k Kind) valid() bool {
	switch k {
	case KindAnd, KindOr, KindNot, KindAllDeps, KindAnyDeps:
		return true
	default:
		return k.IsLeaf()
	}
}

// Condition is one node of an immutable condition tree.
type Condition struct {
	kind     Kind
	children []*Condition

	// in_latest_time_window
	windows  int
	lookback time.Duration

	// updated_since_cron
	cron     string
	timezone string
}

// Kind returns the node's variant.
func (c *Condition) Kind() Kind { return c.kind }

// Children returns the node's operands. The slice must not be modified.
func (c *Condition) Children() []*Condition { return c.children }

// Windows returns N for in_latest_time_window.
func (c *Condition) Windows() int { return c.windows }

// Lookback returns the lookback duration for in_latest_time_window.
func (c *Condition) Lookback() time.Duration { return c.lookback }

// Cron returns the cron expression and timezone for updated_since_cron.
func (c *Condition) Cron() (expr, tz string) { return c.cron, c.timezone }

// Missing is true when the partition has never been materialized or observed.
func Missing() *Condition {
	return &Condition{kind: KindMissing}
}

// InLatestTimeWindow is true when the partition is one of the asset's latest
// n windows. With a positive lookback it is instead true when the window ends
// within lookback of now. Unpartitioned and static assets are always in the
// latest window.
func InLatestTimeWindow(n int, lookback time.Duration) (*Condition, error) {
	if n < 1 {
		return nil, malformed(KindInLatestTimeWindow, "window count must be at least 1, got %d", n)
	}
	if lookback < 0 {
		return nil, malformed(KindInLatestTimeWindow, "lookback must not be negative, got %s", lookback)
	}
	return &Condition{kind: KindInLatestTimeWindow, windows: n, lookback: lookback}, nil
}

// InLatestWindow is InLatestTimeWindow(1, 0).
func InLatestWindow() *Condition {
	return &Condition{kind: KindInLatestTimeWindow, windows: 1}
}

// ParentNewer is true when any upstream dependency was updated more recently
// than the partition.
func ParentNewer() *Condition {
	return &Condition{kind: KindParentNewer}
}

// UpdatedSinceCron is true when the partition was updated at or after the
// latest completed tick of cron in tz.
func UpdatedSinceCron(cron, tz string) (*Condition, error) {
	if _, err := timewindow.ParseSchedule(cron, tz); err != nil {
		return nil, err
	}
	return &Condition{kind: KindUpdatedSinceCron, cron: strings.TrimSpace(cron), timezone: tz}, nil
}

// WillBeRequested is true when the partition is already in this tick's request set.
func WillBeRequested() *Condition {
	return &Condition{kind: KindWillBeRequested}
}

// InProgress is true when an unterminated run targets the partition.
func InProgress() *Condition {
	return &Condition{kind: KindInProgress}
}

// And is true when every child is true.
func And(children ...*Condition) (*Condition, error) {
	return operator(KindAnd, children, 1, -1)
}

// Or is true when any child is true.
func Or(children ...*Condition) (*Condition, error) {
	return operator(KindOr, children, 1, -1)
}

// Not negates exactly one child.
func Not(children ...*Condition) (*Condition, error) {
	return operator(KindNot, children, 1, 1)
}

// AllDeps is true when the child holds for every upstream dependency.
// It is vacuously true for an asset with no dependencies.
func AllDeps(children ...*Condition) (*Condition, error) {
	return operator(KindAllDeps, children, 1, 1)
}

// AnyDeps is true when the child holds for any upstream dependency.
// It is vacuously false for an asset with no dependencies.
func AnyDeps(children ...*Condition) (*Condition, error) {
	return operator(KindAnyDeps, children, 1, 1)
}

func operator(kind Kind, children []*Condition, minChildren, maxChildren int) (*Condition, error) {
	if len(children) < minChildren || (maxChildren >= 0 && len(children) > maxChildren) {
		if minChildren == maxChildren {
			return nil, malformed(kind, "requires exactly %d child, got %d", minChildren, len(children))
		}
		return nil, malformed(kind, "requires at least %d child, got %d", minChildren, len(children))
	}
	for i, child := range children {
		if child == nil {
			return nil, malformed(kind, "child %d is nil", i)
		}
	}
	return &Condition{kind: kind, children: append([]*Condition(nil), children...)}, nil
}

// Must panics if err is non-nil. Use for trees known to be well formed.
func Must(c *Condition, err error) *Condition {
	if err != nil {
		panic(err)
	}
	return c
}

// And returns c AND others.
func (c *Condition) And(others ...*Condition) *Condition {
	return Must(And(append([]*Condition{c}, others...)...))
}

// Or returns c OR others.
func (c *Condition) Or(others ...*Condition) *Condition {
	return Must(Or(append([]*Condition{c}, others...)...))
}

// Not returns NOT c.
func (c *Condition) Not() *Condition {
	return Must(Not(c))
}

// Description is the human-readable label used in explanations.
func (c *Condition) Description() string {
	switch c.kind {
	case KindMissing:
		return "missing"
	case KindInLatestTimeWindow:
		var b strings.Builder
		if c.windows > 1 {
			fmt.Fprintf(&b, "in latest %d time windows", c.windows)
		} else {
			b.WriteString("in latest time window")
		}
		if c.lookback > 0 {
			fmt.Fprintf(&b, " (lookback %s)", c.lookback)
		}
		return b.String()
	case KindParentNewer:
		return "parent newer"
	case KindUpdatedSinceCron:
		tz := c.timezone
		if tz == "" {
			tz = "UTC"
		}
		return fmt.Sprintf("updated since cron %q (%s)", c.cron, tz)
	case KindWillBeRequested:
		return "will be requested"
	case KindInProgress:
		return "in progress"
	case KindAnd:
		return "all of"
	case KindOr:
		return "any of"
	case KindNot:
		return "not"
	case KindAllDeps:
		return "all deps"
	case KindAnyDeps:
		return "any deps"
	default:
		return string(c.kind)
	}
}

// String renders the tree as a compact expression, e.g. and(missing,not(in_progress)).
func (c *Condition) String() string {
	var b strings.Builder
	c.writeExpr(&b)
	return b.String()
}

func (c *Condition) writeExpr(b *strings.Builder) {
	b.WriteString(string(c.kind))
	switch c.kind {
	case KindInLatestTimeWindow:
		if c.windows > 1 || c.lookback > 0 {
			fmt.Fprintf(b, "(%d", c.windows)
			if c.lookback > 0 {
				fmt.Fprintf(b, ",%s", c.lookback)
			}
			b.WriteByte(')')
		}
		return
	case KindUpdatedSinceCron:
		fmt.Fprintf(b, "(%q", c.cron)
		if c.timezone != "" {
			fmt.Fprintf(b, ",%q", c.timezone)
		}
		b.WriteByte(')')
		return
	}
	if len(c.children) == 0 {
		return
	}
	b.WriteByte('(')
	for i, child := range c.children {
		if i > 0 {
			b.WriteByte(',')
		}
		child.writeExpr(b)
	}
	b.WriteByte(')')
}

// Walk visits c and every descendant depth-first, parents before children.
func (c *Condition) Walk(fn func(*Condition)) {
	fn(c)
	for _, child := range c.children {
		child.Walk(fn)
	}
}
