package graph

import (
	"container/heap"
	"fmt"

	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
)

// Heuristic estimates the remaining cost from node to the search's
// destination. It must be non-negative and admissible (never
// overestimate the true remaining cost) for the result to be optimal;
// the zero heuristic (always 0) makes AStar equal to Dijkstra (spec
// §4.11, S-series algorithmic-equivalence property).
type Heuristic func(node common.InternalNodeID) float64

type astarEntry struct {
	node common.InternalNodeID
	g    float64 // cost so far
	f    float64 // g + heuristic estimate, the priority key
}

type astarHeap []astarEntry

func (h astarHeap) Len() int            { return len(h) }
func (h astarHeap) Less(i, j int) bool  { return h[i].f < h[j].f }
func (h astarHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *astarHeap) Push(x interface{}) { *h = append(*h, x.(astarEntry)) }
func (h *astarHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// AStar finds the minimum-weight path from src to dst using heuristic to
// prioritize exploration. heuristic must be non-negative and admissible;
// ZeroHeuristic recovers plain Dijkstra.
func AStar(snap *kernel.Snapshot, src, dst common.InternalNodeID, source Source, weightKey string, heuristic Heuristic) (Path, bool, error) {
	if heuristic == nil {
		heuristic = ZeroHeuristic
	}

	best := map[common.InternalNodeID]float64{src: 0}
	cameFrom := make(map[common.InternalNodeID]common.Edge)
	visited := make(map[common.InternalNodeID]bool)

	pq := &astarHeap{{node: src, g: 0, f: heuristic(src)}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(astarEntry)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		if cur.node == dst {
			p := reconstructPath(src, dst, cameFrom)
			p.Weight = cur.g
			return p, true, nil
		}

		edges, err := neighbors(snap, cur.node, source)
		if err != nil {
			return Path{}, false, err
		}
		for _, e := range edges {
			w := edgeWeight(snap, e, weightKey)
			if w < 0 {
				return Path{}, false, fmt.Errorf("graph: edge %v: %w", e, common.ErrInvalidWeight)
			}
			if visited[e.Dst] {
				continue
			}
			ng := cur.g + w
			if existing, ok := best[e.Dst]; !ok || ng < existing {
				best[e.Dst] = ng
				cameFrom[e.Dst] = e
				heap.Push(pq, astarEntry{node: e.Dst, g: ng, f: ng + heuristic(e.Dst)})
			}
		}
	}
	return Path{}, false, nil
}

// ZeroHeuristic is the admissible-but-uninformative heuristic that makes
// AStar behave identically to Dijkstra.
func ZeroHeuristic(common.InternalNodeID) float64 { return 0 }
