package backfill

import (
	"fmt"
	"slices"

	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
)

// ValidateTarget checks a target against the graph at the cache's instant.
func ValidateTarget(g *graph.Graph, cache *graph.PartitionCache, target ir.BackfillTarget) error {
	switch target.Kind {
	case ir.TargetExplicit:
		if len(target.Ranges) == 0 {
			return fmt.Errorf("%w: explicit target has no ranges", ErrInvalidTarget)
		}
		_, err := materializeTargets(g, cache, target)
		return err
	case ir.TargetGraph:
		if len(target.Assets) == 0 {
			return fmt.Errorf("%w: graph target has no assets", ErrInvalidTarget)
		}
		for _, a := range target.Assets {
			node, ok := g.Get(a)
			if !ok {
				return fmt.Errorf("%w: unknown asset %s", ErrInvalidTarget, a)
			}
			if node.Condition == nil {
				return fmt.Errorf("%w: asset %s has no condition", ErrInvalidTarget, a)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, target.Kind)
	}
}

// resolveRange returns the partitions of r.Asset selected by r, in the
// asset's partition order.
func resolveRange(g *graph.Graph, cache *graph.PartitionCache, r ir.PartitionRange) ([]ir.PartitionKey, error) {
	if !g.Has(r.Asset) {
		return nil, fmt.Errorf("%w: unknown asset %s", ErrInvalidTarget, r.Asset)
	}
	keys, err := cache.Keys(r.Asset)
	if err != nil {
		return nil, fmt.Errorf("partitions of %s: %w", r.Asset, err)
	}

	if len(r.Keys) > 0 {
		selected := make(map[ir.PartitionKey]bool, len(r.Keys))
		for _, k := range r.Keys {
			if !slices.Contains(keys, k) {
				return nil, fmt.Errorf("%w: %s has no partition %q", ErrInvalidTarget, r.Asset, k)
			}
			selected[k] = true
		}
		out := make([]ir.PartitionKey, 0, len(selected))
		for _, k := range keys {
			if selected[k] {
				out = append(out, k)
			}
		}
		return out, nil
	}

	lo, hi := 0, len(keys)-1
	if r.Start != "" {
		if lo = slices.Index(keys, r.Start); lo < 0 {
			return nil, fmt.Errorf("%w: %s has no partition %q", ErrInvalidTarget, r.Asset, r.Start)
		}
	}
	if r.End != "" {
		if hi = slices.Index(keys, r.End); hi < 0 {
			return nil, fmt.Errorf("%w: %s has no partition %q", ErrInvalidTarget, r.Asset, r.End)
		}
	}
	if len(keys) == 0 || lo > hi {
		return nil, fmt.Errorf("%w: range of %s selects no partitions", ErrInvalidTarget, r.Asset)
	}
	return slices.Clone(keys[lo : hi+1]), nil
}

// materializeTargets expands an explicit target into pending target states
// ordered topologically by asset, then by partition order.
func materializeTargets(g *graph.Graph, cache *graph.PartitionCache, target ir.BackfillTarget) ([]ir.TargetState, error) {
	selected := make(map[ir.AssetKey]map[ir.PartitionKey]bool)
	for _, r := range target.Ranges {
		keys, err := resolveRange(g, cache, r)
		if err != nil {
			return nil, err
		}
		set := selected[r.Asset]
		if set == nil {
			set = make(map[ir.PartitionKey]bool)
			selected[r.Asset] = set
		}
		for _, k := range keys {
			set[k] = true
		}
	}

	var targets []ir.TargetState
	for _, asset := range g.Toposorted() {
		set, ok := selected[asset]
		if !ok {
			continue
		}
		keys, err := cache.Keys(asset)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if set[k] {
				targets = append(targets, ir.TargetState{
					Asset:     asset,
					Partition: k,
					Status:    ir.TargetPending,
					Attempt:   1,
				})
			}
		}
	}
	return targets, nil
}

// targetIndex locates targets by asset partition.
type targetIndex map[ir.AssetPartition]int

func indexTargets(targets []ir.TargetState) targetIndex {
	idx := make(targetIndex, len(targets))
	for i, t := range targets {
		idx[t.AssetPartition()] = i
	}
	return idx
}

// upstreamTargets returns the indexes of in-backfill targets that ap
// depends on directly.
func upstreamTargets(g *graph.Graph, cache *graph.PartitionCache, idx targetIndex, ap ir.AssetPartition) ([]int, error) {
	var out []int
	for _, parent := range g.Parents(ap.Asset) {
		mapped, err := g.ParentPartitions(ap, parent, cache)
		if err != nil {
			return nil, fmt.Errorf("map %s onto %s: %w", ap, parent, err)
		}
		for _, p := range mapped {
			if i, ok := idx[ir.AP(parent, p)]; ok {
				out = append(out, i)
			}
		}
	}
	return out, nil
}
