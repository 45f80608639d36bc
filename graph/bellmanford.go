package graph

import (
	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
)

// BellmanFord finds the minimum-weight path from src to dst, permitting
// negative edge weights (spec §4.11). It relaxes every reachable edge up
// to len(nodes)-1 times, then runs one more pass to detect a negative
// cycle reachable from src; if one exists, it fails with
// common.ErrNegativeCycle rather than returning an unbounded-looking
// distance.
func BellmanFord(snap *kernel.Snapshot, src, dst common.InternalNodeID, source Source, weightKey string) (Path, bool, error) {
	dist := map[common.InternalNodeID]float64{src: 0}
	cameFrom := make(map[common.InternalNodeID]common.Edge)

	reachable, edges, err := collectReachable(snap, src, source)
	if err != nil {
		return Path{}, false, err
	}

	relax := func() bool {
		changed := false
		for _, e := range edges {
			from, ok := dist[e.Src]
			if !ok {
				continue
			}
			w := edgeWeight(snap, e, weightKey)
			nd := from + w
			if existing, ok := dist[e.Dst]; !ok || nd < existing {
				dist[e.Dst] = nd
				cameFrom[e.Dst] = e
				changed = true
			}
		}
		return changed
	}

	n := len(reachable)
	for i := 0; i < n-1; i++ {
		if !relax() {
			break
		}
	}
	if relax() {
		return Path{}, false, common.ErrNegativeCycle
	}

	if _, ok := dist[dst]; !ok {
		return Path{}, false, nil
	}
	p := reconstructPath(src, dst, cameFrom)
	p.Weight = dist[dst]
	return p, true, nil
}

// collectReachable performs one unweighted BFS from src to enumerate
// every node and edge reachable under source's type filter, bounding the
// Bellman-Ford relaxation loop to that subgraph instead of the whole
// database.
func collectReachable(snap *kernel.Snapshot, src common.InternalNodeID, source Source) (map[common.InternalNodeID]bool, []common.Edge, error) {
	visited := map[common.InternalNodeID]bool{src: true}
	var edges []common.Edge
	frontier := []common.InternalNodeID{src}
	for len(frontier) > 0 {
		var next []common.InternalNodeID
		for _, node := range frontier {
			out, err := neighbors(snap, node, source)
			if err != nil {
				return nil, nil, err
			}
			for _, e := range out {
				edges = append(edges, e)
				if !visited[e.Dst] {
					visited[e.Dst] = true
					next = append(next, e.Dst)
				}
			}
		}
		frontier = next
	}
	return visited, edges, nil
}
