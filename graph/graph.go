// Package graph implements the kernel's graph primitives (spec §4.11,
// C11): neighbor expansion, shortest-path search, variable-length path
// enumeration, and PageRank, all operating over a single *kernel.Snapshot.
// None of it mutates the snapshot or the engine; every primitive here is
// read-only and safe to run concurrently with writers and with other
// primitives sharing the same snapshot.
package graph

import (
	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/value"
)

// Path is the result of a shortest-path search: the node sequence from
// source to destination inclusive, the edges connecting them in order,
// and the accumulated weight. The unweighted searches (ShortestPath,
// BidirectionalShortestPath) leave Weight at 0; their hop count is
// len(Edges).
type Path struct {
	Nodes  []common.InternalNodeID
	Edges  []common.Edge
	Weight float64
}

// Source selects which relation types a traversal is allowed to follow.
// A nil or empty Types means every relation type is allowed.
type Source struct {
	Types []common.InternedID
}

func (s Source) allowed(t common.InternedID) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, want := range s.Types {
		if want == t {
			return true
		}
	}
	return false
}

// neighbors returns every outgoing edge from node whose type clears src's
// allow-list, deduplicated and sorted by the Snapshot's own ordering.
func neighbors(snap *kernel.Snapshot, node common.InternalNodeID, src Source) ([]common.Edge, error) {
	if len(src.Types) == 1 {
		edges, err := snap.Out(node, &src.Types[0])
		return edges, err
	}
	edges, err := snap.Out(node, nil)
	if err != nil {
		return nil, err
	}
	if len(src.Types) == 0 {
		return edges, nil
	}
	filtered := edges[:0:0]
	for _, e := range edges {
		if src.allowed(e.Type) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// edgeWeight resolves the weight of e from the property named weightKey,
// defaulting to 1 when the property is absent (spec §4.11: "absent ⇒
// 1"). Non-numeric values are treated as absent.
func edgeWeight(snap *kernel.Snapshot, e common.Edge, weightKey string) float64 {
	if weightKey == "" {
		return 1
	}
	v, ok := snap.EdgeProperty(e, weightKey)
	if !ok {
		return 1
	}
	switch v.Tag() {
	case value.TagInt64:
		return float64(v.AsInt64())
	case value.TagFloat64:
		return v.AsFloat64()
	default:
		return 1
	}
}

// reconstructPath walks a predecessor chain (dst -> ... -> src, recorded
// as the edge used to reach each node) back into a forward Path.
func reconstructPath(src, dst common.InternalNodeID, cameFrom map[common.InternalNodeID]common.Edge) Path {
	if src == dst {
		return Path{Nodes: []common.InternalNodeID{src}}
	}
	var edges []common.Edge
	cur := dst
	for cur != src {
		e, ok := cameFrom[cur]
		if !ok {
			return Path{}
		}
		edges = append(edges, e)
		cur = e.Src
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	nodes := make([]common.InternalNodeID, 0, len(edges)+1)
	nodes = append(nodes, src)
	for _, e := range edges {
		nodes = append(nodes, e.Dst)
	}
	return Path{Nodes: nodes, Edges: edges}
}
