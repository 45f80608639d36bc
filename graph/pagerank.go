package graph

import (
	"math"

	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
)

// PageRankOptions configures a PageRank run (spec §4.11 defaults).
type PageRankOptions struct {
	Damping       float64 // default 0.85
	MaxIterations int     // default 100
	Tolerance     float64 // default 1e-6
	Source        Source
}

// DefaultPageRankOptions returns the spec-mandated defaults.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{Damping: 0.85, MaxIterations: 100, Tolerance: 1e-6}
}

// PageRankResult holds the per-node scores plus the termination state of
// the power-iteration loop.
type PageRankResult struct {
	Scores     map[common.InternalNodeID]float64
	Iterations int
	Converged  bool
}

// PageRank runs the standard power-iteration PageRank over every node
// known to snap, following only edges allowed by opts.Source. Dangling
// nodes (no outgoing edges matching the filter) redistribute their mass
// uniformly across all nodes, the conventional fix for rank sinks.
func PageRank(snap *kernel.Snapshot, opts PageRankOptions) (PageRankResult, error) {
	opts = fillDefaults(opts)

	nodes := snap.Nodes(kernel.NodeFilter{})
	n := len(nodes)
	if n == 0 {
		return PageRankResult{Scores: map[common.InternalNodeID]float64{}, Converged: true}, nil
	}

	outEdges := make(map[common.InternalNodeID][]common.Edge, n)
	for _, node := range nodes {
		edges, err := neighbors(snap, node, opts.Source)
		if err != nil {
			return PageRankResult{}, err
		}
		outEdges[node] = edges
	}

	scores := make(map[common.InternalNodeID]float64, n)
	init := 1.0 / float64(n)
	for _, node := range nodes {
		scores[node] = init
	}

	converged := false
	iter := 0
	for ; iter < opts.MaxIterations; iter++ {
		next := make(map[common.InternalNodeID]float64, n)
		base := (1 - opts.Damping) / float64(n)
		for _, node := range nodes {
			next[node] = base
		}

		var danglingMass float64
		for _, node := range nodes {
			out := outEdges[node]
			if len(out) == 0 {
				danglingMass += scores[node]
				continue
			}
			share := opts.Damping * scores[node] / float64(len(out))
			for _, e := range out {
				next[e.Dst] += share
			}
		}
		if danglingMass > 0 {
			redistribute := opts.Damping * danglingMass / float64(n)
			for _, node := range nodes {
				next[node] += redistribute
			}
		}

		var delta float64
		for _, node := range nodes {
			delta += math.Abs(next[node] - scores[node])
		}
		scores = next
		if delta < opts.Tolerance {
			converged = true
			iter++
			break
		}
	}

	return PageRankResult{Scores: scores, Iterations: iter, Converged: converged}, nil
}

// fillDefaults fills zero-valued numeric fields with the spec defaults,
// leaving Source (whose zero value, "no filter", is itself meaningful)
// untouched.
func fillDefaults(opts PageRankOptions) PageRankOptions {
	d := DefaultPageRankOptions()
	if opts.Damping <= 0 {
		opts.Damping = d.Damping
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = d.MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = d.Tolerance
	}
	return opts
}
