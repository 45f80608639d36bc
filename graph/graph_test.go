package graph

import (
	"math"
	"testing"

	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/value"
)

func setupTestEngine(t *testing.T) (*kernel.Engine, func()) {
	dir := t.TempDir()
	e, err := kernel.Open(kernel.DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() { e.Close() }
	return e, cleanup
}

func addEdge(t *testing.T, e *kernel.Engine, src, dst common.ExternalID, relType string, weight *float64) {
	t.Helper()
	b, err := e.BeginBatch(kernel.DefaultBatchOptions())
	if err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	if err := b.AddEdge(src, dst, relType); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if weight != nil {
		if err := b.SetEdgeProperty(src, dst, relType, "weight", value.Float64(*weight)); err != nil {
			t.Fatalf("SetEdgeProperty failed: %v", err)
		}
	}
	if err := b.Commit(kernel.DefaultCommitOptions()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func w(v float64) *float64 { return &v }

func mustResolve(t *testing.T, snap *kernel.Snapshot, ext common.ExternalID) common.InternalNodeID {
	t.Helper()
	id, ok := snap.ResolveExternal(ext)
	if !ok {
		t.Fatalf("external id %d not found", ext)
	}
	return id
}

// TestShortestPathEqualsBidirectional covers S3 and the algorithmic
// equivalence property (spec §8 item 8): BFS and its bidirectional
// variant return paths of the same length.
func TestShortestPathEqualsBidirectional(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", w(1))
	addEdge(t, e, 2, 3, "R", w(1))
	addEdge(t, e, 3, 4, "R", w(1))
	addEdge(t, e, 1, 5, "R", w(10)) // dst is node 5, separate from the chain

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	a := mustResolve(t, snap, 1)
	t5 := mustResolve(t, snap, 5)

	p1, ok, err := ShortestPath(snap, a, t5, Source{}, 0)
	if err != nil || !ok {
		t.Fatalf("ShortestPath(A,T) failed: ok=%v err=%v", ok, err)
	}
	if len(p1.Edges) != 1 {
		t.Fatalf("expected path A->T of length 1, got %d edges", len(p1.Edges))
	}

	p2, ok, err := BidirectionalShortestPath(snap, a, t5, Source{}, 0)
	if err != nil || !ok {
		t.Fatalf("BidirectionalShortestPath(A,T) failed: ok=%v err=%v", ok, err)
	}
	if len(p2.Edges) != len(p1.Edges) {
		t.Fatalf("bidirectional path length %d != plain BFS length %d", len(p2.Edges), len(p1.Edges))
	}
}

// TestDijkstraCheaperPath covers S3's weighted half: Dijkstra prefers
// the cheaper three-hop route over the direct, expensive edge.
func TestDijkstraCheaperPath(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", w(1))
	addEdge(t, e, 2, 3, "R", w(1))
	addEdge(t, e, 3, 4, "R", w(1))
	addEdge(t, e, 1, 4, "R", w(10))

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	a := mustResolve(t, snap, 1)
	dst := mustResolve(t, snap, 4)

	p, ok, err := Dijkstra(snap, a, dst, Source{}, "weight")
	if err != nil || !ok {
		t.Fatalf("Dijkstra failed: ok=%v err=%v", ok, err)
	}
	if p.Weight != 3 {
		t.Fatalf("expected weight 3, got %v", p.Weight)
	}
	if len(p.Edges) != 3 {
		t.Fatalf("expected 3-hop path, got %d edges", len(p.Edges))
	}
}

func TestDijkstraRejectsNegativeWeight(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", w(-1))

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	a := mustResolve(t, snap, 1)
	b := mustResolve(t, snap, 2)

	_, _, err = Dijkstra(snap, a, b, Source{}, "weight")
	if err == nil {
		t.Fatal("expected InvalidWeight error, got nil")
	}
}

// TestAStarZeroHeuristicEqualsDijkstra covers the A* == Dijkstra
// algorithmic-equivalence property (spec §8 item 8).
func TestAStarZeroHeuristicEqualsDijkstra(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", w(1))
	addEdge(t, e, 2, 3, "R", w(1))
	addEdge(t, e, 3, 4, "R", w(1))
	addEdge(t, e, 1, 4, "R", w(10))

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	a := mustResolve(t, snap, 1)
	dst := mustResolve(t, snap, 4)

	dijkstraPath, _, err := Dijkstra(snap, a, dst, Source{}, "weight")
	if err != nil {
		t.Fatalf("Dijkstra failed: %v", err)
	}
	astarPath, _, err := AStar(snap, a, dst, Source{}, "weight", ZeroHeuristic)
	if err != nil {
		t.Fatalf("AStar failed: %v", err)
	}
	if astarPath.Weight != dijkstraPath.Weight {
		t.Fatalf("A* weight %v != Dijkstra weight %v", astarPath.Weight, dijkstraPath.Weight)
	}
	if len(astarPath.Edges) != len(dijkstraPath.Edges) {
		t.Fatalf("A* path length %d != Dijkstra path length %d", len(astarPath.Edges), len(dijkstraPath.Edges))
	}
}

func TestBellmanFordHandlesNegativeWeights(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", w(4))
	addEdge(t, e, 1, 3, "R", w(5))
	addEdge(t, e, 3, 2, "R", w(-2))

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	a := mustResolve(t, snap, 1)
	b := mustResolve(t, snap, 2)

	p, ok, err := BellmanFord(snap, a, b, Source{}, "weight")
	if err != nil || !ok {
		t.Fatalf("BellmanFord failed: ok=%v err=%v", ok, err)
	}
	if p.Weight != 3 {
		t.Fatalf("expected weight 3 (via A->C->B), got %v", p.Weight)
	}
}

func TestBellmanFordDetectsNegativeCycle(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", w(1))
	addEdge(t, e, 2, 3, "R", w(-5))
	addEdge(t, e, 3, 1, "R", w(1))

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	a := mustResolve(t, snap, 1)
	c := mustResolve(t, snap, 3)

	_, _, err = BellmanFord(snap, a, c, Source{}, "weight")
	if err != common.ErrNegativeCycle {
		t.Fatalf("expected ErrNegativeCycle, got %v", err)
	}
}

// TestVariableLengthPathNodeUniqueness covers S4: a 3-cycle does not
// yield a path that revisits the source node under NODE uniqueness.
func TestVariableLengthPathNodeUniqueness(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", nil)
	addEdge(t, e, 2, 3, "R", nil)
	addEdge(t, e, 3, 1, "R", nil)

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	a := mustResolve(t, snap, 1)

	paths, err := VariableLengthPaths(snap, a, Source{}, 1, 3, UniquenessNode)
	if err != nil {
		t.Fatalf("VariableLengthPaths failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths (A->B and A->B->C), got %d", len(paths))
	}
	for _, p := range paths {
		if len(p.Edges) == 3 {
			t.Fatalf("NODE uniqueness must not yield the full 3-hop cycle back to A")
		}
	}
}

// TestPageRankTriangleConverges covers S5: a symmetric 3-cycle converges
// to three equal scores.
func TestPageRankTriangleConverges(t *testing.T) {
	e, cleanup := setupTestEngine(t)
	defer cleanup()

	addEdge(t, e, 1, 2, "R", nil)
	addEdge(t, e, 2, 1, "R", nil)
	addEdge(t, e, 2, 3, "R", nil)
	addEdge(t, e, 3, 2, "R", nil)
	addEdge(t, e, 3, 1, "R", nil)
	addEdge(t, e, 1, 3, "R", nil)

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Close()

	result, err := PageRank(snap, DefaultPageRankOptions())
	if err != nil {
		t.Fatalf("PageRank failed: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected PageRank to converge on a symmetric triangle")
	}
	if len(result.Scores) != 3 {
		t.Fatalf("expected 3 scored nodes, got %d", len(result.Scores))
	}

	var first float64
	i := 0
	for _, score := range result.Scores {
		if i == 0 {
			first = score
		} else if math.Abs(score-first) > 1e-4 {
			t.Fatalf("expected near-equal scores, got %v vs %v", score, first)
		}
		i++
	}
}
