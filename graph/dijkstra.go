package graph

import (
	"container/heap"
	"fmt"

	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
)

// dijkstraEntry is one candidate in the priority queue: the node it
// reaches and the tentative distance to get there. Grounded on the
// teacher's CompactionHeap (lsm/compaction.go), a container/heap min-heap
// used for its own k-way merge — here ordered by distance instead of key.
type dijkstraEntry struct {
	node common.InternalNodeID
	dist float64
}

type dijkstraHeap []dijkstraEntry

func (h dijkstraHeap) Len() int            { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h dijkstraHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x interface{}) { *h = append(*h, x.(dijkstraEntry)) }
func (h *dijkstraHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Dijkstra finds the minimum-weight path from src to dst, weighing each
// edge by the property named weightKey (absent ⇒ 1, spec §4.11). Returns
// common.ErrInvalidWeight if any explored edge carries a negative weight.
func Dijkstra(snap *kernel.Snapshot, src, dst common.InternalNodeID, source Source, weightKey string) (Path, bool, error) {
	dist := map[common.InternalNodeID]float64{src: 0}
	cameFrom := make(map[common.InternalNodeID]common.Edge)
	visited := make(map[common.InternalNodeID]bool)

	pq := &dijkstraHeap{{node: src, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(dijkstraEntry)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		if cur.node == dst {
			p := reconstructPath(src, dst, cameFrom)
			p.Weight = cur.dist
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
			nd := cur.dist + w
			if existing, ok := dist[e.Dst]; !ok || nd < existing {
				dist[e.Dst] = nd
				cameFrom[e.Dst] = e
				heap.Push(pq, dijkstraEntry{node: e.Dst, dist: nd})
			}
		}
	}
	return Path{}, false, nil
}
