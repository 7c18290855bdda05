package graph

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// PartitionCache memoizes each asset's existing partitions at one instant.
// Create one per tick; it is safe for concurrent use.
type PartitionCache struct {
	g   *Graph
	now time.Time

	mu      sync.Mutex
	keys    map[ir.AssetKey]cachedKeys
	windows map[ir.AssetKey]cachedWindows
}

type cachedKeys struct {
	keys []ir.PartitionKey
	err  error
}

type cachedWindows struct {
	windows []timewindow.Window
	err     error
}

// NewPartitionCache returns an empty cache for g at now.
func NewPartitionCache(g *Graph, now time.Time) *PartitionCache {
	return &PartitionCache{
		g:       g,
		now:     now,
		keys:    make(map[ir.AssetKey]cachedKeys),
		windows: make(map[ir.AssetKey]cachedWindows),
	}
}

// Now returns the instant the cache was built for.
func (c *PartitionCache) Now() time.Time { return c.now }

// Keys returns the asset's existing partition keys in order.
func (c *PartitionCache) Keys(asset ir.AssetKey) ([]ir.PartitionKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.keys[asset]; ok {
		return v.keys, v.err
	}
	if !c.g.Has(asset) {
		err := fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
		c.keys[asset] = cachedKeys{err: err}
		return nil, err
	}
	keys, err := c.g.Partitions(asset).PartitionKeys(c.now)
	c.keys[asset] = cachedKeys{keys: keys, err: err}
	return keys, err
}

// Windows returns the asset's existing time windows in order.
func (c *PartitionCache) Windows(asset ir.AssetKey) ([]timewindow.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.windows[asset]; ok {
		return v.windows, v.err
	}
	windows, err := c.g.Partitions(asset).Windows(c.now)
	c.windows[asset] = cachedWindows{windows: windows, err: err}
	return windows, err
}

// ParentPartitions maps one child partition onto the partitions of parent
// using the edge's resolved mapping. An empty result means no parent
// partition corresponds yet.
func (g *Graph) ParentPartitions(child ir.AssetPartition, parent ir.AssetKey, cache *PartitionCache) ([]ir.PartitionKey, error) {
	mapping, err := g.Mapping(child.Asset, parent)
	if err != nil {
		return nil, err
	}
	parentDef := g.Partitions(parent)
	if !parentDef.IsPartitioned() {
		return []ir.PartitionKey{""}, nil
	}

	switch mapping {
	case MappingAll:
		return cache.Keys(parent)

	case MappingIdentity:
		keys, err := cache.Keys(parent)
		if err != nil {
			return nil, err
		}
		if slices.Contains(keys, child.Partition) {
			return []ir.PartitionKey{child.Partition}, nil
		}
		return []ir.PartitionKey{}, nil

	case MappingLast:
		keys, err := cache.Keys(parent)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return []ir.PartitionKey{}, nil
		}
		return []ir.PartitionKey{keys[len(keys)-1]}, nil

	case MappingTimeWindow:
		w, err := g.Partitions(child.Asset).Window(child.Partition)
		if err != nil {
			return nil, err
		}
		windows, err := cache.Windows(parent)
		if err != nil {
			return nil, err
		}
		out := []ir.PartitionKey{}
		for _, pw := range windows {
			if pw.Overlaps(w) {
				out = append(out, pw.Key)
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMapping, mapping)
	}
}

// ChildPartitions maps one parent partition onto the partitions of child:
// every child partition whose mapped parents include it.
func (g *Graph) ChildPartitions(parent ir.AssetPartition, child ir.AssetKey, cache *PartitionCache) ([]ir.PartitionKey, error) {
	keys, err := cache.Keys(child)
	if err != nil {
		return nil, err
	}
	out := []ir.PartitionKey{}
	for _, k := range keys {
		mapped, err := g.ParentPartitions(ir.AP(child, k), parent.Asset, cache)
		if err != nil {
			return nil, err
		}
		if slices.Contains(mapped, parent.Partition) {
			out = append(out, k)
		}
	}
	return out, nil
}

// View binds a graph to one tick's partition cache. It satisfies
// condition.Topology.
type View struct {
	*Graph
	Cache *PartitionCache
}

// At returns a view of g with a fresh partition cache for now.
func (g *Graph) At(now time.Time) *View {
	return &View{Graph: g, Cache: NewPartitionCache(g, now)}
}

// ParentPartitions maps through the view's cache.
func (v *View) ParentPartitions(child ir.AssetPartition, parent ir.AssetKey) ([]ir.PartitionKey, error) {
	return v.Graph.ParentPartitions(child, parent, v.Cache)
}

// PartitionKeys returns the asset's existing partitions at the view's instant.
func (v *View) PartitionKeys(asset ir.AssetKey) ([]ir.PartitionKey, error) {
	return v.Cache.Keys(asset)
}
