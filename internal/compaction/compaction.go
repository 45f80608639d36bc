// Package compaction implements the Compactor (spec §4.7, C8): merging
// MemTable/L0 runs and existing CSR segments into fresh segments,
// dropping tombstoned triples, and atomically swapping the manifest.
// The merge is adapted from the teacher's lsm/compaction.go k-way
// merge, here done with edge-triple sets and a per-ordering sort
// rather than a heap; the page rewrite step is new, since
// the teacher's SSTables have no analogue of multi-ordering CSR runs.
package compaction

import (
	"sort"
	"time"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/memtable"
	"github.com/nervusdb/kernel/internal/segment"
)

// Mode selects how a compaction pass rewrites segments.
type Mode int

const (
	// Rewrite reads every page of every selected ordering, merges with
	// L0 and drops tombstones, and writes a complete fresh file.
	Rewrite Mode = iota
	// Incremental scores each ordering's primaries and rewrites that
	// whole ordering (merging the delta as Rewrite does) if at least one
	// primary clears minScore; an ordering with none is left as-is. It
	// does not rewrite single primaries within an ordering and adds
	// nothing to the manifest's Orphans.
	Incremental
)

// Weights configures the incremental-mode selection heuristic (spec
// §4.7: "score = w_hot·hotCount + w_pages·(pageCount-1) + w_tomb·(tombstonesPresent?1:0)").
type Weights struct {
	Hot   float64
	Pages float64
	Tomb  float64
}

// DefaultWeights matches the spec's example scoring.
var DefaultWeights = Weights{Hot: 1.0, Pages: 0.5, Tomb: 2.0}

// Options configures one compaction pass.
type Options struct {
	Mode                 Mode
	Orders               []segment.Order // nil means all six
	Weights              Weights
	MinScore             float64
	MaxPrimariesPerOrder int
	HotCompression       segment.Compression
	ColdCompression      segment.Compression
}

// Stats reports what a compaction pass did, returned to callers of the
// `compact`/`autoCompact` maintenance entry points.
type Stats struct {
	OrdersRewritten  int
	PrimariesChanged int
	PagesWritten     int
	EdgesWritten     int
	TombstonesDropped int
	Duration         time.Duration
}

// Compactor owns the segment directory and drives rewrite/incremental
// passes against a manifest.
type Compactor struct {
	dir string
}

// New creates a Compactor writing segment files under dir.
func New(dir string) *Compactor {
	return &Compactor{dir: dir}
}

// Run executes one compaction pass, folding every given L0 run into
// the segments named by opts.Orders (or all six), and returns the
// updated manifest plus stats. The caller is responsible for swapping
// the returned manifest in atomically (Manifest.Save) once readers
// permit it.
func (c *Compactor) Run(m *segment.Manifest, runs []*memtable.L0Run, opts Options) (*segment.Manifest, Stats, error) {
	start := timeNow()
	orders := opts.Orders
	if len(orders) == 0 {
		orders = segment.Orders
	}

	added, tombstoned := mergeRuns(runs)
	mergedTombstones := append([][3]uint32(nil), m.Tombstones...)
	for t := range tombstoned {
		row := [3]uint32{uint32(t.Src), uint32(t.Type), uint32(t.Dst)}
		found := false
		for _, existing := range mergedTombstones {
			if existing == row {
				found = true
				break
			}
		}
		if !found {
			mergedTombstones = append(mergedTombstones, row)
		}
	}

	// m is never mutated here: it may be the manifest a live Snapshot
	// is still reading, so every field next needs is copied instead.
	next := &segment.Manifest{
		Version:     m.Version,
		PageSize:    m.PageSize,
		CreatedAt:   m.CreatedAt,
		Compression: m.Compression,
		Epoch:       m.Epoch + 1,
		Lookups:     append([]segment.OrderLookup(nil), m.Lookups...),
		Orphans:     m.Orphans,
	}

	stats := Stats{}
	skipped := false
	compression := opts.HotCompression
	if compression.Codec == "" {
		compression = m.Compression
	}

	for _, order := range orders {
		existingPages := m.LookupFor(order)

		if opts.Mode == Incremental {
			scored := ScorePrimaries(order, existingPages, added, tombstoned, opts)
			if len(scored) == 0 {
				// Nothing in this ordering clears the hotness threshold;
				// leave its pages exactly as they are rather than paying
				// for a full rewrite (spec §4.7 incremental mode).
				next.SetLookup(order, existingPages)
				skipped = true
				continue
			}
			stats.PrimariesChanged += len(scored)
		}

		reader, err := segment.OpenReader(c.dir, order, existingPages)
		if err != nil {
			return nil, stats, err
		}
		existingEdges, err := reader.All()
		reader.Close()
		if err != nil {
			return nil, stats, err
		}

		merged := mergeEdgeSets(existingEdges, added, tombstoned)
		sort.Slice(merged, func(i, j int) bool { return segment.Less(order, merged[i], merged[j]) })

		pages, err := segment.BuildOrdering(c.dir, order, merged, compression)
		if err != nil {
			return nil, stats, err
		}
		next.SetLookup(order, pages)

		stats.OrdersRewritten++
		stats.PagesWritten += len(pages)
		stats.EdgesWritten += len(merged)
	}

	// Once every selected ordering reflects the tombstones, they are
	// baked into the page contents and need not be tracked separately.
	if len(orders) == len(segment.Orders) && !skipped {
		next.Tombstones = nil
		stats.TombstonesDropped = len(mergedTombstones)
	} else {
		next.Tombstones = mergedTombstones
	}

	stats.Duration = timeNow().Sub(start)
	return next, stats, nil
}

// mergeRuns flattens a sequence of L0 runs (oldest first) into a
// single added-edge set and a single tombstone set, applying "later
// run wins" the way the MemTable itself does.
func mergeRuns(runs []*memtable.L0Run) (added map[common.Edge]bool, tombstoned map[common.Edge]bool) {
	added = make(map[common.Edge]bool)
	tombstoned = make(map[common.Edge]bool)
	for _, run := range runs {
		for _, e := range run.Edges() {
			added[e] = true
			delete(tombstoned, e)
		}
		for _, e := range run.Tombstones() {
			tombstoned[e] = true
			delete(added, e)
		}
	}
	return added, tombstoned
}

// mergeEdgeSets folds existing segment edges with the L0 delta,
// dropping anything tombstoned and de-duplicating triples already on
// disk that were also re-added.
func mergeEdgeSets(existing []common.Edge, added, tombstoned map[common.Edge]bool) []common.Edge {
	seen := make(map[common.Edge]bool, len(existing)+len(added))
	out := make([]common.Edge, 0, len(existing)+len(added))
	for _, e := range existing {
		if tombstoned[e] || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	for e := range added {
		if tombstoned[e] || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

var timeNow = time.Now
