package graph

import (
	"fmt"
	"slices"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// MappingKind selects how a child partition maps onto parent partitions.
type MappingKind string

const (
	// MappingDefault is resolved by New from the two partition definitions.
	MappingDefault MappingKind = ""

	// MappingIdentity maps a partition to the parent partition with the same key.
	MappingIdentity MappingKind = "identity"

	// MappingAll maps a partition to every parent partition.
	MappingAll MappingKind = "all"

	// MappingTimeWindow maps a window to every parent window overlapping it.
	MappingTimeWindow MappingKind = "time_window"

	// MappingLast maps a partition to the parent's latest partition.
	MappingLast MappingKind = "last"
)

// ParseMapping validates a mapping name.
func ParseMapping(s string) (MappingKind, error) {
	switch m := MappingKind(s); m {
	case MappingDefault, MappingIdentity, MappingAll, MappingTimeWindow, MappingLast:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mapping %q", ErrInvalidMapping, s)
	}
}

// Dependency is one upstream edge.
type Dependency struct {
	Asset   ir.AssetKey `json:"asset"`
	Mapping MappingKind `json:"mapping,omitempty"`
}

// AssetNode is the definition of one asset.
type AssetNode struct {
	Key         ir.AssetKey              `json:"key"`
	Deps        []Dependency             `json:"deps,omitempty"`
	Partitions  timewindow.PartitionsDef `json:"partitions"`
	Condition   *condition.Condition     `json:"condition,omitempty"`
	Group       string                   `json:"group,omitempty"`
	Description string                   `json:"description,omitempty"`
}

// Graph is an immutable, validated set of asset nodes.
type Graph struct {
	nodes    map[ir.AssetKey]*AssetNode
	parents  map[ir.AssetKey][]ir.AssetKey
	children map[ir.AssetKey][]ir.AssetKey
	order    []ir.AssetKey
	levels   [][]ir.AssetKey
}

// New validates nodes and builds the graph. It rejects duplicate keys,
// dependencies on unknown assets, inapplicable mappings and cycles.
// Default mappings are resolved here, once.
func New(nodes ...AssetNode) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[ir.AssetKey]*AssetNode, len(nodes)),
		parents:  make(map[ir.AssetKey][]ir.AssetKey, len(nodes)),
		children: make(map[ir.AssetKey][]ir.AssetKey, len(nodes)),
	}

	for i := range nodes {
		n := nodes[i]
		if err := n.Key.Validate(); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if _, dup := g.nodes[n.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, n.Key)
		}
		if err := n.Partitions.Validate(); err != nil {
			return nil, fmt.Errorf("asset %s: partitions: %w", n.Key, err)
		}
		if n.Partitions.Kind == "" {
			n.Partitions.Kind = timewindow.Unpartitioned
		}
		n.Deps = slices.Clone(n.Deps)
		g.nodes[n.Key] = &n
	}

	for _, key := range g.sortedKeys() {
		n := g.nodes[key]
		seen := make(map[ir.AssetKey]bool, len(n.Deps))
		for i, dep := range n.Deps {
			parent, ok := g.nodes[dep.Asset]
			if !ok {
				return nil, fmt.Errorf("asset %s: %w: dependency %s", key, ErrUnknownAsset, dep.Asset)
			}
			if seen[dep.Asset] {
				return nil, fmt.Errorf("asset %s: dependency %s listed twice", key, dep.Asset)
			}
			seen[dep.Asset] = true

			mapping, err := resolveMapping(dep.Mapping, n.Partitions, parent.Partitions)
			if err != nil {
				return nil, fmt.Errorf("asset %s: dependency %s: %w", key, dep.Asset, err)
			}
			n.Deps[i].Mapping = mapping
			g.parents[key] = append(g.parents[key], dep.Asset)
			g.children[dep.Asset] = append(g.children[dep.Asset], key)
		}
	}
	for k := range g.children {
		ir.SortAssetKeys(g.children[k])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, cycle
	}
	g.order, g.levels = g.toposort()
	return g, nil
}

// resolveMapping validates an explicit mapping or picks the default.
func resolveMapping(m MappingKind, child, parent timewindow.PartitionsDef) (MappingKind, error) {
	switch m {
	case MappingDefault:
		switch {
		case !parent.IsPartitioned(), !child.IsPartitioned():
			return MappingAll, nil
		case child.IsTimeWindow() && parent.IsTimeWindow():
			return MappingTimeWindow, nil
		default:
			return MappingIdentity, nil
		}
	case MappingIdentity:
		if child.IsPartitioned() != parent.IsPartitioned() {
			return "", fmt.Errorf("%w: identity needs both sides partitioned or both unpartitioned", ErrInvalidMapping)
		}
	case MappingTimeWindow:
		if !child.IsTimeWindow() || !parent.IsTimeWindow() {
			return "", fmt.Errorf("%w: time_window needs time-window partitions on both sides", ErrInvalidMapping)
		}
	case MappingLast:
		if !parent.IsPartitioned() {
			return "", fmt.Errorf("%w: last needs a partitioned parent", ErrInvalidMapping)
		}
	case MappingAll:
	default:
		return "", fmt.Errorf("%w: unknown mapping %q", ErrInvalidMapping, m)
	}
	return m, nil
}

func (g *Graph) sortedKeys() []ir.AssetKey {
	keys := make([]ir.AssetKey, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	ir.SortAssetKeys(keys)
	return keys
}

// toposort orders assets upstream first. Each asset's level is the length of
// the longest path from a root, so assets on one level never depend on each
// other. Ties are broken by key for determinism.
func (g *Graph) toposort() ([]ir.AssetKey, [][]ir.AssetKey) {
	level := make(map[ir.AssetKey]int, len(g.nodes))
	var depth func(ir.AssetKey) int
	depth = func(k ir.AssetKey) int {
		if l, ok := level[k]; ok {
			return l
		}
		l := 0
		for _, p := range g.parents[k] {
			l = max(l, depth(p)+1)
		}
		level[k] = l
		return l
	}

	var levels [][]ir.AssetKey
	for _, k := range g.sortedKeys() {
		l := depth(k)
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], k)
	}

	order := make([]ir.AssetKey, 0, len(g.nodes))
	for _, lvl := range levels {
		order = append(order, lvl...)
	}
	return order, levels
}

// Len returns the number of assets.
func (g *Graph) Len() int { return len(g.nodes) }

// Get returns the node for key. The node must not be modified.
func (g *Graph) Get(key ir.AssetKey) (*AssetNode, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Has reports whether key is in the graph.
func (g *Graph) Has(key ir.AssetKey) bool {
	_, ok := g.nodes[key]
	return ok
}

// Keys returns every asset key, sorted.
func (g *Graph) Keys() []ir.AssetKey { return g.sortedKeys() }

// Toposorted returns assets upstream before downstream.
func (g *Graph) Toposorted() []ir.AssetKey { return slices.Clone(g.order) }

// Levels returns assets grouped by topological level.
func (g *Graph) Levels() [][]ir.AssetKey {
	out := make([][]ir.AssetKey, len(g.levels))
	for i, l := range g.levels {
		out[i] = slices.Clone(l)
	}
	return out
}

// Parents returns the asset's dependencies in declaration order.
func (g *Graph) Parents(key ir.AssetKey) []ir.AssetKey { return g.parents[key] }

// Children returns the asset's direct dependents, sorted.
func (g *Graph) Children(key ir.AssetKey) []ir.AssetKey { return g.children[key] }

// Partitions returns the asset's partition definition.
func (g *Graph) Partitions(key ir.AssetKey) timewindow.PartitionsDef {
	if n, ok := g.nodes[key]; ok {
		return n.Partitions
	}
	return timewindow.None()
}

// Mapping returns the resolved mapping of the child -> parent edge.
func (g *Graph) Mapping(child, parent ir.AssetKey) (MappingKind, error) {
	n, ok := g.nodes[child]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, child)
	}
	for _, d := range n.Deps {
		if d.Asset == parent {
			return d.Mapping, nil
		}
	}
	return "", fmt.Errorf("%w: %s is not a dependency of %s", ErrUnknownAsset, parent, child)
}

// Downstream returns keys and every asset that transitively depends on them,
// in topological order.
func (g *Graph) Downstream(keys ...ir.AssetKey) []ir.AssetKey {
	return g.closure(keys, g.children)
}

// Upstream returns keys and every asset they transitively depend on,
// in topological order.
func (g *Graph) Upstream(keys ...ir.AssetKey) []ir.AssetKey {
	return g.closure(keys, g.parents)
}

func (g *Graph) closure(keys []ir.AssetKey, edges map[ir.AssetKey][]ir.AssetKey) []ir.AssetKey {
	seen := make(map[ir.AssetKey]bool)
	stack := slices.Clone(keys)
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[k] || !g.Has(k) {
			continue
		}
		seen[k] = true
		stack = append(stack, edges[k]...)
	}
	out := make([]ir.AssetKey, 0, len(seen))
	for _, k := range g.order {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}
