package main

import (
	"fmt"
	"time"

	"github.com/nervusdb/kernel"
	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/common/benchmark"
)

// benchResult reports one bench run's throughput and commit latency,
// the graph-native counterpart of cmd/benchmark's Result (which
// measured Put/Get against a generic common.StorageEngine).
type benchResult struct {
	edges     int
	batchSize int
	duration  time.Duration
	opsPerSec float64
	latency   benchmark.LatencyStats
}

// benchEdgeWrites commits numEdges freshly-generated edges against e in
// batches of batchSize, recording each batch commit's latency, and
// reports aggregate throughput. Grounded on cmd/benchmark's
// preload-then-measure shape (framework.go's Benchmark.Run), adapted
// from Put/Get timing to BeginBatch/AddEdge/Commit timing since the
// kernel exposes a graph API rather than common.StorageEngine's
// key-value one.
func benchEdgeWrites(e *kernel.Engine, numEdges, batchSize int) (*benchResult, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	hist := benchmark.NewLatencyHistogram()

	start := time.Now()
	committed := 0
	var nextExternal common.ExternalID = 1
	for committed < numEdges {
		n := batchSize
		if numEdges-committed < n {
			n = numEdges - committed
		}

		batchStart := time.Now()
		b, err := e.BeginBatch(kernel.DefaultBatchOptions())
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			src := nextExternal
			dst := nextExternal + 1
			if err := b.AddEdge(src, dst, "BENCH"); err != nil {
				return nil, err
			}
			nextExternal += 2
		}
		if err := b.Commit(kernel.DefaultCommitOptions()); err != nil {
			return nil, err
		}
		hist.Record(time.Since(batchStart))
		committed += n
	}
	elapsed := time.Since(start)

	return &benchResult{
		edges:     committed,
		batchSize: batchSize,
		duration:  elapsed,
		opsPerSec: float64(committed) / elapsed.Seconds(),
		latency:   hist.Stats(),
	}, nil
}

func printBenchResult(r *benchResult) {
	fmt.Println("graphkernel: bench: edge-write throughput")
	fmt.Printf("  Edges committed:   %d (batch size %d)\n", r.edges, r.batchSize)
	fmt.Printf("  Duration:          %v\n", r.duration)
	fmt.Printf("  Throughput:        %.0f edges/sec\n", r.opsPerSec)
	fmt.Printf("  Batch commit P50:  %v\n", r.latency.P50)
	fmt.Printf("  Batch commit P95:  %v\n", r.latency.P95)
	fmt.Printf("  Batch commit P99:  %v\n", r.latency.P99)
	fmt.Printf("  Batch commit max:  %v\n", r.latency.Max)
}
