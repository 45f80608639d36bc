package compaction

import (
	"testing"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/memtable"
	"github.com/nervusdb/kernel/internal/readerset"
	"github.com/nervusdb/kernel/internal/segment"
)

func TestRunMergesL0IntoEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	m := segment.Empty(segment.Compression{Codec: "none"})

	mt := memtable.New(0)
	mt.AddEdge(common.Edge{Src: 1, Type: 1, Dst: 2}, 1)
	mt.AddEdge(common.Edge{Src: 2, Type: 1, Dst: 3}, 1)
	run := mt.Freeze(1)

	next, stats, err := c.Run(m, []*memtable.L0Run{run}, Options{
		Mode:            Rewrite,
		HotCompression:  segment.Compression{Codec: "none"},
		ColdCompression: segment.Compression{Codec: "none"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.OrdersRewritten != len(segment.Orders) {
		t.Fatalf("expected all %d orderings rewritten, got %d", len(segment.Orders), stats.OrdersRewritten)
	}
	if next.Epoch != m.Epoch+1 {
		t.Fatalf("expected epoch bump, got %d (was %d)", next.Epoch, m.Epoch)
	}

	reader, err := segment.OpenReader(dir, segment.SPO, next.LookupFor(segment.SPO))
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer reader.Close()
	edges, err := reader.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges in the rewritten SPO ordering, got %d", len(edges))
	}
}

// TestRunDropsTombstonedEdges covers spec §4.7: a rewrite-mode pass
// must not carry a tombstoned triple into the fresh segment file.
func TestRunDropsTombstonedEdges(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	m := segment.Empty(segment.Compression{Codec: "none"})

	seed := memtable.New(0)
	e := common.Edge{Src: 1, Type: 1, Dst: 2}
	seed.AddEdge(e, 1)
	seedRun := seed.Freeze(1)
	m, _, err := c.Run(m, []*memtable.L0Run{seedRun}, Options{Mode: Rewrite, HotCompression: segment.Compression{Codec: "none"}})
	if err != nil {
		t.Fatalf("seed Run failed: %v", err)
	}

	del := memtable.New(0)
	del.RemoveEdge(e, 2)
	delRun := del.Freeze(2)

	next, _, err := c.Run(m, []*memtable.L0Run{delRun}, Options{Mode: Rewrite, HotCompression: segment.Compression{Codec: "none"}})
	if err != nil {
		t.Fatalf("tombstone Run failed: %v", err)
	}

	reader, err := segment.OpenReader(dir, segment.SPO, next.LookupFor(segment.SPO))
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer reader.Close()
	edges, err := reader.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	for _, got := range edges {
		if got == e {
			t.Fatalf("expected tombstoned edge %+v to be dropped from the rewritten ordering", e)
		}
	}
}

// TestIncrementalModeSkipsColdOrderings covers spec §4.7: with Mode
// set to Incremental and a MinScore no delta can clear, Run must leave
// every ordering's existing page lookup untouched instead of paying
// for a full rewrite.
func TestIncrementalModeSkipsColdOrderings(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	m := segment.Empty(segment.Compression{Codec: "none"})

	seed := memtable.New(0)
	seed.AddEdge(common.Edge{Src: 1, Type: 1, Dst: 2}, 1)
	seedRun := seed.Freeze(1)
	m, _, err := c.Run(m, []*memtable.L0Run{seedRun}, Options{Mode: Rewrite, HotCompression: segment.Compression{Codec: "none"}})
	if err != nil {
		t.Fatalf("seed Run failed: %v", err)
	}
	seededLookups := append([]segment.OrderLookup(nil), m.Lookups...)

	tiny := memtable.New(0)
	tiny.AddEdge(common.Edge{Src: 9, Type: 9, Dst: 9}, 2)
	tinyRun := tiny.Freeze(2)

	next, stats, err := c.Run(m, []*memtable.L0Run{tinyRun}, Options{
		Mode:           Incremental,
		MinScore:       1000, // unreachable: nothing should clear this
		HotCompression: segment.Compression{Codec: "none"},
	})
	if err != nil {
		t.Fatalf("incremental Run failed: %v", err)
	}
	if stats.OrdersRewritten != 0 {
		t.Fatalf("expected no orderings rewritten under an unreachable MinScore, got %d", stats.OrdersRewritten)
	}
	for _, order := range segment.Orders {
		if len(next.LookupFor(order)) != len(lookupFor(seededLookups, order)) {
			t.Fatalf("expected ordering %v's page lookup to survive untouched", order)
		}
	}
}

// TestIncrementalModeRewritesHotOrderings covers the opposite edge: a
// MinScore of 0 admits every primary touched by the delta, so
// incremental mode behaves like a full rewrite of those orderings and
// the new edge becomes visible.
func TestIncrementalModeRewritesHotOrderings(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	m := segment.Empty(segment.Compression{Codec: "none"})

	mt := memtable.New(0)
	e := common.Edge{Src: 1, Type: 1, Dst: 2}
	mt.AddEdge(e, 1)
	run := mt.Freeze(1)

	next, stats, err := c.Run(m, []*memtable.L0Run{run}, Options{
		Mode:           Incremental,
		MinScore:       0,
		HotCompression: segment.Compression{Codec: "none"},
	})
	if err != nil {
		t.Fatalf("incremental Run failed: %v", err)
	}
	if stats.OrdersRewritten != len(segment.Orders) {
		t.Fatalf("expected all %d orderings rewritten when MinScore admits every primary, got %d", len(segment.Orders), stats.OrdersRewritten)
	}

	reader, err := segment.OpenReader(dir, segment.SPO, next.LookupFor(segment.SPO))
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer reader.Close()
	edges, err := reader.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	found := false
	for _, got := range edges {
		if got == e {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the hot edge to appear in the rewritten SPO ordering")
	}
}

func lookupFor(lookups []segment.OrderLookup, order segment.Order) []segment.PageRecord {
	for _, l := range lookups {
		if l.Order == order {
			return l.Pages
		}
	}
	return nil
}

func TestGCSkipsWhenReaderPinsOldEpoch(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	m := &segment.Manifest{
		Epoch: 5,
		Orphans: []segment.OrphanSet{
			{Order: segment.SPO, Pages: []segment.PageRecord{{PrimaryValue: 1}}},
		},
	}

	readerDir := t.TempDir()
	registry, err := readerset.Open(readerDir)
	if err != nil {
		t.Fatalf("readerset.Open failed: %v", err)
	}
	handle, err := registry.Register(1) // pins an epoch older than m.Epoch
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer handle.Release()

	next, stats, err := c.GC(m, registry, true)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if stats.PagesDropped != 0 {
		t.Fatalf("expected GC to skip reclaiming while a reader pins an old epoch, dropped %d pages", stats.PagesDropped)
	}
	if len(next.Orphans) != 1 {
		t.Fatalf("expected orphans to remain untouched, got %d entries", len(next.Orphans))
	}
}

func TestGCIgnoresReadersWhenNotRespected(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	edges := []common.Edge{{Src: 1, Type: 1, Dst: 2}}
	pages, err := segment.BuildOrdering(dir, segment.SPO, edges, segment.Compression{Codec: "none"})
	if err != nil {
		t.Fatalf("BuildOrdering failed: %v", err)
	}

	m := &segment.Manifest{
		Epoch:   5,
		Lookups: []segment.OrderLookup{{Order: segment.SPO, Pages: pages}},
		Orphans: []segment.OrphanSet{
			{Order: segment.SPO, Pages: pages},
		},
	}

	next, stats, err := c.GC(m, nil, false)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if stats.PagesDropped != len(pages) {
		t.Fatalf("expected %d pages dropped, got %d", len(pages), stats.PagesDropped)
	}
	if len(next.Orphans) != 0 {
		t.Fatalf("expected orphans cleared after GC, got %d entries", len(next.Orphans))
	}
}
