package graph

import (
	"fmt"

	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
)

// Uniqueness controls which nodes a variable-length path is allowed to
// revisit (spec §4.11, Cypher's `[:T*min..max]` semantics).
type Uniqueness int

const (
	// UniquenessNode forbids any node from repeating within a single path.
	UniquenessNode Uniqueness = iota
	// UniquenessNone allows node repeats; edges may repeat too, so a
	// cycle can be walked more than once within max.
	UniquenessNone
)

// DefaultMaxPathLength bounds variable-length enumeration when the
// caller passes max<=0, so the search always terminates (spec §4.11:
// "bounded by a max that MUST default to a finite value; infinite
// enumeration is a fatal misuse").
const DefaultMaxPathLength = 10

// VariableLengthPaths enumerates every walk from src (node-simple under
// UniquenessNode, unrestricted under UniquenessNone) whose length
// in edges falls in [min,max], following only relation types allowed by
// source. Enumeration is depth-first; results are returned in the order
// discovered, shortest-length-first within each branch.
func VariableLengthPaths(snap *kernel.Snapshot, src common.InternalNodeID, source Source, min, max int, uniqueness Uniqueness) ([]Path, error) {
	if min < 0 {
		return nil, fmt.Errorf("graph: variable-length path: min must be >= 0, got %d", min)
	}
	if max <= 0 {
		max = DefaultMaxPathLength
	}
	if max < min {
		return nil, fmt.Errorf("graph: variable-length path: max (%d) must be >= min (%d)", max, min)
	}

	var results []Path
	visited := map[common.InternalNodeID]bool{src: true}
	var walk func(node common.InternalNodeID, nodes []common.InternalNodeID, edges []common.Edge) error
	walk = func(node common.InternalNodeID, nodes []common.InternalNodeID, edges []common.Edge) error {
		if len(edges) >= min {
			results = append(results, Path{
				Nodes: append([]common.InternalNodeID(nil), nodes...),
				Edges: append([]common.Edge(nil), edges...),
			})
		}
		if len(edges) >= max {
			return nil
		}
		out, err := neighbors(snap, node, source)
		if err != nil {
			return err
		}
		for _, e := range out {
			if uniqueness == UniquenessNode && visited[e.Dst] {
				continue
			}
			visited[e.Dst] = true
			if err := walk(e.Dst, append(nodes, e.Dst), append(edges, e)); err != nil {
				visited[e.Dst] = false
				return err
			}
			visited[e.Dst] = false
		}
		return nil
	}

	if err := walk(src, []common.InternalNodeID{src}, nil); err != nil {
		return nil, err
	}
	return results, nil
}
