package graph

import (
	"slices"

	"github.com/roach88/cadence/internal/ir"
)

// findCycle reports one dependency cycle, or nil for a DAG.
//
// It runs Tarjan's algorithm over child -> parent edges and reports the first
// strongly connected component (in key order) that has more than one member
// or a self-loop.
func (g *Graph) findCycle() *CycleError {
	sccs := tarjanSCC(g.sortedKeys(), g.parents)
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && slices.Contains(g.parents[scc[0]], scc[0])) {
			return &CycleError{Path: cyclePath(scc, g.parents)}
		}
	}
	return nil
}

// tarjanSCC finds strongly connected components.
// Nodes are visited in the given order so results are deterministic.
func tarjanSCC(nodes []ir.AssetKey, edges map[ir.AssetKey][]ir.AssetKey) [][]ir.AssetKey {
	var (
		index   = 0
		stack   []ir.AssetKey
		indices = make(map[ir.AssetKey]int)
		lowlink = make(map[ir.AssetKey]int)
		onStack = make(map[ir.AssetKey]bool)
		sccs    [][]ir.AssetKey
	)

	var strongConnect func(ir.AssetKey)
	strongConnect = func(v ir.AssetKey) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []ir.AssetKey
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			ir.SortAssetKeys(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath walks edges inside the SCC from its first member back to itself.
func cyclePath(scc []ir.AssetKey, edges map[ir.AssetKey][]ir.AssetKey) []ir.AssetKey {
	members := make(map[ir.AssetKey]bool, len(scc))
	for _, k := range scc {
		members[k] = true
	}

	start := scc[0]
	path := []ir.AssetKey{start}
	visited := map[ir.AssetKey]bool{start: true}
	current := start
	for {
		var next ir.AssetKey
		for _, w := range edges[current] {
			if members[w] && (w == start || !visited[w]) {
				next = w
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
