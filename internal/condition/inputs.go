package condition

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// Inputs returns the assets whose state can change the outcome of c for asset.
// parents resolves an asset's upstream dependencies. The result is sorted.
func Inputs(c *Condition, asset ir.AssetKey, parents func(ir.AssetKey) []ir.AssetKey) []ir.AssetKey {
	set := make(map[ir.AssetKey]bool)
	collectInputs(c, asset, parents, set)

	out := make([]ir.AssetKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	ir.SortAssetKeys(out)
	return out
}

func collectInputs(c *Condition, asset ir.AssetKey, parents func(ir.AssetKey) []ir.AssetKey, set map[ir.AssetKey]bool) {
	switch c.kind {
	case KindMissing, KindUpdatedSinceCron, KindWillBeRequested, KindInProgress:
		set[asset] = true
	case KindParentNewer:
		set[asset] = true
		for _, p := range parents(asset) {
			set[p] = true
		}
	case KindInLatestTimeWindow:
		// Depends only on time and the partition definition.
	case KindAllDeps, KindAnyDeps:
		for _, p := range parents(asset) {
			collectInputs(c.children[0], p, parents, set)
		}
	default:
		for _, child := range c.children {
			collectInputs(child, asset, parents, set)
		}
	}
}

// IsTimeDependent reports whether the tree's value can change with the
// passage of time alone.
func IsTimeDependent(c *Condition) bool {
	dependent := false
	c.Walk(func(n *Condition) {
		if n.kind == KindInLatestTimeWindow || n.kind == KindUpdatedSinceCron {
			dependent = true
		}
	})
	return dependent
}

// TimeBoundary lists the time-dependent facts the tree observed for asset at
// now: latest cron ticks and latest windows. Two evaluations with equal
// boundaries saw the same time-dependent inputs. The result is sorted.
func TimeBoundary(c *Condition, asset ir.AssetKey, env Env) []string {
	set := make(map[string]bool)
	collectBoundary(c, asset, env, set)

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func collectBoundary(c *Condition, asset ir.AssetKey, env Env, set map[string]bool) {
	switch c.kind {
	case KindUpdatedSinceCron:
		tick, err := timewindow.LatestCompletedTick(c.cron, env.Now(), c.timezone)
		if err != nil {
			set[fmt.Sprintf("cron %s: error %v", c.cron, err)] = true
			return
		}
		set[fmt.Sprintf("cron %s %s: %s", c.cron, c.timezone, tick.UTC().Format(time.RFC3339))] = true
	case KindInLatestTimeWindow:
		def := env.Partitions(asset)
		if !def.IsTimeWindow() {
			return
		}
		if c.lookback > 0 {
			// The lookback horizon moves continuously.
			set[fmt.Sprintf("lookback %s %s: %s", asset, c.lookback, env.Now().UTC().Format(time.RFC3339Nano))] = true
			return
		}
		keys, err := env.PartitionKeys(asset)
		if err != nil {
			set[fmt.Sprintf("windows %s: error %v", asset, err)] = true
			return
		}
		last := ir.PartitionKey("")
		if len(keys) > 0 {
			last = keys[len(keys)-1]
		}
		set[fmt.Sprintf("windows %s: %s", asset, last)] = true
	case KindAllDeps, KindAnyDeps:
		for _, p := range env.Parents(asset) {
			collectBoundary(c.children[0], p, env, set)
		}
	default:
		for _, child := range c.children {
			collectBoundary(child, asset, env, set)
		}
	}
}
