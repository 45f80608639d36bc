package graph

import (
	"fmt"

	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
)

// DefaultMaxHops bounds an unweighted search when the caller supplies no
// explicit limit, keeping a cyclic graph from turning a BFS into an
// unbounded scan (spec §4.11, §7 cancellation note).
const DefaultMaxHops = 1000

// ShortestPath runs an unweighted BFS from src to dst, following only
// edges whose type clears source.Types, and returns the first path found or
// ok=false if dst is unreachable within maxHops. maxHops<=0 uses
// DefaultMaxHops.
func ShortestPath(snap *kernel.Snapshot, src, dst common.InternalNodeID, source Source, maxHops int) (Path, bool, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if src == dst {
		return Path{Nodes: []common.InternalNodeID{src}}, true, nil
	}

	visited := map[common.InternalNodeID]bool{src: true}
	cameFrom := make(map[common.InternalNodeID]common.Edge)
	frontier := []common.InternalNodeID{src}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []common.InternalNodeID
		for _, node := range frontier {
			edges, err := neighbors(snap, node, source)
			if err != nil {
				return Path{}, false, err
			}
			for _, e := range edges {
				if visited[e.Dst] {
					continue
				}
				visited[e.Dst] = true
				cameFrom[e.Dst] = e
				if e.Dst == dst {
					return reconstructPath(src, dst, cameFrom), true, nil
				}
				next = append(next, e.Dst)
			}
		}
		frontier = next
	}
	return Path{}, false, nil
}

// BidirectionalShortestPath alternates expansion from src (forward, via
// Out) and dst (backward, via In), meeting in the middle. It MUST return
// a path of the same length as ShortestPath (spec §4.11), since both
// explore the same unweighted graph; it differs only in which frontier
// advances each round, trading a second frontier's bookkeeping for up to
// half the hop count.
func BidirectionalShortestPath(snap *kernel.Snapshot, src, dst common.InternalNodeID, source Source, maxHops int) (Path, bool, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if src == dst {
		return Path{Nodes: []common.InternalNodeID{src}}, true, nil
	}

	fwdVisited := map[common.InternalNodeID]bool{src: true}
	bwdVisited := map[common.InternalNodeID]bool{dst: true}
	fwdFrom := make(map[common.InternalNodeID]common.Edge)
	bwdFrom := make(map[common.InternalNodeID]common.Edge) // edge points dst->their side (In-derived)
	fwdFrontier := []common.InternalNodeID{src}
	bwdFrontier := []common.InternalNodeID{dst}

	meet, found := common.InternalNodeID(0), false

	for hop := 0; hop < maxHops && len(fwdFrontier) > 0 && len(bwdFrontier) > 0 && !found; hop++ {
		// Expand the smaller frontier first, the standard bidirectional-BFS
		// balancing heuristic.
		if len(fwdFrontier) <= len(bwdFrontier) {
			var next []common.InternalNodeID
			for _, node := range fwdFrontier {
				edges, err := neighbors(snap, node, source)
				if err != nil {
					return Path{}, false, err
				}
				for _, e := range edges {
					if fwdVisited[e.Dst] {
						continue
					}
					fwdVisited[e.Dst] = true
					fwdFrom[e.Dst] = e
					if bwdVisited[e.Dst] {
						meet, found = e.Dst, true
						break
					}
					next = append(next, e.Dst)
				}
				if found {
					break
				}
			}
			fwdFrontier = next
		} else {
			var next []common.InternalNodeID
			for _, node := range bwdFrontier {
				edges, err := snap.In(node, nil)
				if err != nil {
					return Path{}, false, err
				}
				for _, e := range edges {
					if !source.allowed(e.Type) {
						continue
					}
					if bwdVisited[e.Src] {
						continue
					}
					bwdVisited[e.Src] = true
					bwdFrom[e.Src] = e
					if fwdVisited[e.Src] {
						meet, found = e.Src, true
						break
					}
					next = append(next, e.Src)
				}
				if found {
					break
				}
			}
			bwdFrontier = next
		}
	}

	if !found {
		return Path{}, false, nil
	}

	fwdHalf := reconstructPath(src, meet, fwdFrom)
	if fwdHalf.Nodes == nil && meet != src {
		return Path{}, false, fmt.Errorf("graph: internal error reconstructing forward half of bidirectional path")
	}

	// Walk the backward chain from meet to dst, following the In-derived
	// edges (each keyed by the node it was discovered from, pointing
	// toward dst).
	var backEdges []common.Edge
	cur := meet
	for cur != dst {
		e, ok := bwdFrom[cur]
		if !ok {
			return Path{}, false, fmt.Errorf("graph: internal error reconstructing backward half of bidirectional path")
		}
		backEdges = append(backEdges, e)
		cur = e.Dst
	}

	nodes := append([]common.InternalNodeID(nil), fwdHalf.Nodes...)
	edges := append([]common.Edge(nil), fwdHalf.Edges...)
	for _, e := range backEdges {
		nodes = append(nodes, e.Dst)
		edges = append(edges, e)
	}
	return Path{Nodes: nodes, Edges: edges}, true, nil
}
