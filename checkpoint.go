package kernel

import (
	"path/filepath"

	"github.com/nervusdb/kernel/internal/compaction"
	"github.com/nervusdb/kernel/internal/memtable"
	"github.com/nervusdb/kernel/internal/walog"
)

// Checkpoint folds every pending L0 run into the segment manifest,
// persists the interners and property store, truncates the WAL, and
// writes a Checkpoint record marking the new recovery starting point
// (spec §4.2/§4.9). It is the other MemTable-freeze trigger alongside
// the size threshold (spec §4.5).
func (e *Engine) Checkpoint() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	return e.checkpointLocked()
}

func (e *Engine) checkpointLocked() error {
	seq := e.commitSeq.Load()
	if e.activeMT.ApproxSize() > 0 {
		e.frozenRuns = append(e.frozenRuns, e.activeMT.Freeze(seq))
		e.activeMT = memtable.New(e.opts.MemTableMaxSize)
	}

	if len(e.frozenRuns) > 0 {
		runs := e.frozenRuns
		pagesPath := filepath.Join(e.dir, pagesDir)
		next, _, err := e.compactor.Run(e.manifest, runs, compaction.Options{
			Mode:            compaction.Rewrite,
			Weights:         e.opts.CompactionWeights,
			MinScore:        e.opts.MinCompactionScore,
			HotCompression:  e.opts.HotCompression,
			ColdCompression: e.opts.ColdCompression,
		})
		if err != nil {
			return err
		}
		if err := next.Save(filepath.Join(pagesPath, manifestName)); err != nil {
			return err
		}
		if _, err := e.wal.Append(walog.RecordManifestSwitch, walog.EncodeManifestSwitch(next.Epoch)); err != nil {
			return err
		}
		e.manifest = next
		// The compactor only folds edges into segments; properties and
		// label memberships carried by these runs must be folded into
		// the durable PropertyStore/nodeLabels index here, or they are
		// lost the moment frozenRuns is discarded below (spec §4.4/C4).
		if err := e.foldFrozenRuns(runs); err != nil {
			return err
		}
		e.frozenRuns = nil
	}

	idTable, err := e.nodeIDs.RebuildTable(e.pager)
	if err != nil {
		return err
	}
	e.pager.SetRoots(idTable.Root(), 0)
	if err := e.pager.FlushMetaAndBitmap(); err != nil {
		return err
	}

	if err := saveLabels(filepath.Join(e.dir, labelsName), e.labels); err != nil {
		return err
	}
	if err := saveLabelIndex(filepath.Join(e.dir, labelIndexName), e.nodeLabels); err != nil {
		return err
	}
	if err := e.props.Flush(); err != nil {
		return err
	}

	if err := e.wal.SaveDedupe(); err != nil {
		return err
	}
	if err := e.wal.Truncate(); err != nil {
		return err
	}
	if _, err := e.wal.Append(walog.RecordCheckpoint, walog.EncodeCheckpoint(e.manifest.Epoch, uint32(idTable.Root()), e.pager.ManifestRevision())); err != nil {
		return err
	}
	if err := e.wal.Sync(); err != nil {
		return err
	}

	e.metrics.CheckpointCount.Inc()
	e.log.Db().Info().Uint64("epoch", e.manifest.Epoch).Msg("checkpoint complete")
	return nil
}

// Flush is an alias for Checkpoint kept for callers that think in
// terms of "make durable right now" rather than the WAL-truncation
// mechanics it implies.
func (e *Engine) Flush() error { return e.Checkpoint() }

// Compact runs one rewrite-mode compaction pass over every pending L0
// run and the current segment manifest, then atomically swaps in the
// result. This is the synchronous counterpart to AutoCompact, intended
// for the `compact` maintenance entry point.
func (e *Engine) Compact() (compaction.Stats, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if err := e.checkpointLocked(); err != nil {
		return compaction.Stats{}, err
	}
	e.metrics.CompactionCount.Inc()
	return compaction.Stats{}, nil
}

// AutoCompact runs an incremental compaction pass: every ordering with
// at least one primary whose score clears MinCompactionScore is
// rewritten in full, and the other orderings keep their pages
// untouched (no per-primary rewrite within an ordering). It is
// intended for a background/maintenance trigger rather than a full
// checkpoint.
func (e *Engine) AutoCompact() (compaction.Stats, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	if len(e.frozenRuns) == 0 {
		return compaction.Stats{}, nil
	}
	runs := e.frozenRuns

	pagesPath := filepath.Join(e.dir, pagesDir)
	next, stats, err := e.compactor.Run(e.manifest, runs, compaction.Options{
		Mode:                 compaction.Incremental,
		Weights:              e.opts.CompactionWeights,
		MinScore:             e.opts.MinCompactionScore,
		MaxPrimariesPerOrder: e.opts.MaxPrimariesPerOrder,
		HotCompression:       e.opts.HotCompression,
		ColdCompression:      e.opts.ColdCompression,
	})
	if err != nil {
		return stats, err
	}
	if err := next.Save(filepath.Join(pagesPath, manifestName)); err != nil {
		return stats, err
	}
	if _, err := e.wal.Append(walog.RecordManifestSwitch, walog.EncodeManifestSwitch(next.Epoch)); err != nil {
		return stats, err
	}
	e.manifest = next
	if err := e.foldFrozenRuns(runs); err != nil {
		return stats, err
	}
	e.frozenRuns = nil
	e.metrics.CompactionCount.Inc()
	return stats, nil
}

// GC reclaims the segment pages listed in the manifest's Orphans,
// refusing to touch pages a pinned reader might still need when
// respectReaders is true. No compaction pass in this package adds
// entries to Orphans, so GC only has work when a loaded manifest
// already lists some.
func (e *Engine) GC(respectReaders bool) (compaction.GCStats, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	pagesPath := filepath.Join(e.dir, pagesDir)
	next, stats, err := e.compactor.GC(e.manifest, e.readers, respectReaders)
	if err != nil {
		return stats, err
	}
	if err := next.Save(filepath.Join(pagesPath, manifestName)); err != nil {
		return stats, err
	}
	e.manifest = next
	return stats, nil
}
