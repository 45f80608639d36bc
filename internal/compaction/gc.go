package compaction

import (
	"github.com/nervusdb/kernel/internal/readerset"
	"github.com/nervusdb/kernel/internal/segment"
)

// GCStats reports what one GC pass reclaimed.
type GCStats struct {
	OrdersRewritten int
	PagesDropped    int
}

// GC scans m.Orphans and, for every ordering with orphan pages,
// confirms no active reader pins an epoch old enough to still need
// them (spec §4.7: "confirms no active reader pins the epoch when it
// was still live"), then rewrites that ordering's file omitting the
// orphan pages and clears its orphan entry.
func (c *Compactor) GC(m *segment.Manifest, readers *readerset.Registry, respectReaders bool) (*segment.Manifest, GCStats, error) {
	stats := GCStats{}
	if len(m.Orphans) == 0 {
		return m, stats, nil
	}

	if respectReaders && readers != nil {
		if minEpoch, any := readers.MinPinnedEpoch(); any && minEpoch < m.Epoch {
			// A reader still pins an epoch older than this manifest;
			// its orphans may still be in use. Skip the pass entirely.
			return m, stats, nil
		}
	}

	next := &segment.Manifest{
		Version:     m.Version,
		PageSize:    m.PageSize,
		CreatedAt:   m.CreatedAt,
		Compression: m.Compression,
		Epoch:       m.Epoch,
		Lookups:     append([]segment.OrderLookup(nil), m.Lookups...),
		Tombstones:  m.Tombstones,
	}

	for _, orphan := range m.Orphans {
		orphanSet := make(map[segment.PageRecord]bool, len(orphan.Pages))
		for _, p := range orphan.Pages {
			orphanSet[p] = true
		}

		existing := next.LookupFor(orphan.Order)
		reader, err := segment.OpenReader(c.dir, orphan.Order, existing)
		if err != nil {
			return nil, stats, err
		}

		// Rebuild the ordering from every page not in the orphan set,
		// decoding and re-encoding so offsets stay contiguous (spec
		// §4.7: "rewrites the ordering file omitting orphan ranges
		// (compacting holes)").
		var keep []segment.PageRecord
		for _, rec := range existing {
			if orphanSet[rec] {
				stats.PagesDropped++
				continue
			}
			keep = append(keep, rec)
		}

		survivors, err := reader.DecodePages(keep)
		reader.Close()
		if err != nil {
			return nil, stats, err
		}

		pages, err := segment.BuildOrdering(c.dir, orphan.Order, survivors, m.Compression)
		if err != nil {
			return nil, stats, err
		}
		next.SetLookup(orphan.Order, pages)
		stats.OrdersRewritten++
	}
	next.Orphans = nil

	return next, stats, nil
}
