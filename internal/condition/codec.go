package condition

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// object is the canonical tree form shared by the JSON codec and Hash:
// {"kind": ..., "children": [...], "params": {...}}.
func (c *Condition) object() ir.Object {
	obj := ir.Object{"kind": ir.String(c.kind)}
	if len(c.children) > 0 {
		children := make(ir.List, len(c.children))
		for i, child := range c.children {
			children[i] = child.object()
		}
		obj["children"] = children
	}

	params := ir.Object{}
	switch c.kind {
	case KindInLatestTimeWindow:
		params["n"] = ir.Int(c.windows)
		if c.lookback > 0 {
			params["lookback"] = ir.String(c.lookback.String())
		}
	case KindUpdatedSinceCron:
		params["cron"] = ir.String(c.cron)
		if c.timezone != "" {
			params["timezone"] = ir.String(c.timezone)
		}
	}
	if len(params) > 0 {
		obj["params"] = params
	}
	return obj
}

// MarshalJSON implements json.Marshaler.
func (c *Condition) MarshalJSON() ([]byte, error) {
	return c.object().MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler. The decoded tree is validated
// exactly like one built with the constructors.
func (c *Condition) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// Hash returns a stable content hash of the tree.
func (c *Condition) Hash() (string, error) {
	return ir.HashCanonical(ir.DomainCondition, c.object())
}

// Equal reports whether two trees are structurally identical.
func (c *Condition) Equal(o *Condition) bool {
	if c == nil || o == nil {
		return c == o
	}
	a, errA := c.Hash()
	b, errB := o.Hash()
	return errA == nil && errB == nil && a == b
}

type wireCondition struct {
	Kind     Kind              `json:"kind"`
	Children []json.RawMessage `json:"children"`
	Params   struct {
		N        int    `json:"n"`
		Lookback string `json:"lookback"`
		Cron     string `json:"cron"`
		Timezone string `json:"timezone"`
	} `json:"params"`
}

// Decode parses the JSON form of a condition tree. Unknown keys are ignored.
func Decode(data []byte) (*Condition, error) {
	var w wireCondition
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	if !w.Kind.valid() {
		return nil, malformed(w.Kind, "unknown kind")
	}

	children := make([]*Condition, 0, len(w.Children))
	for i, raw := range w.Children {
		child, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%s child %d: %w", w.Kind, i, err)
		}
		children = append(children, child)
	}

	switch w.Kind {
	case KindMissing:
		return Missing(), nil
	case KindParentNewer:
		return ParentNewer(), nil
	case KindWillBeRequested:
		return WillBeRequested(), nil
	case KindInProgress:
		return InProgress(), nil
	case KindInLatestTimeWindow:
		n := w.Params.N
		if n == 0 {
			n = 1
		}
		var lookback time.Duration
		if w.Params.Lookback != "" {
			d, err := time.ParseDuration(w.Params.Lookback)
			if err != nil {
				return nil, malformed(w.Kind, "lookback: %v", err)
			}
			lookback = d
		}
		return InLatestTimeWindow(n, lookback)
	case KindUpdatedSinceCron:
		return UpdatedSinceCron(w.Params.Cron, w.Params.Timezone)
	case KindAnd:
		return And(children...)
	case KindOr:
		return Or(children...)
	case KindNot:
		return Not(children...)
	case KindAllDeps:
		return AllDeps(children...)
	default:
		return AnyDeps(children...)
	}
}
