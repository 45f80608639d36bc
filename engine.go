package kernel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/compaction"
	"github.com/nervusdb/kernel/internal/idindex"
	"github.com/nervusdb/kernel/internal/interner"
	"github.com/nervusdb/kernel/internal/memtable"
	"github.com/nervusdb/kernel/internal/obslog"
	"github.com/nervusdb/kernel/internal/obsmetrics"
	"github.com/nervusdb/kernel/internal/pager"
	"github.com/nervusdb/kernel/internal/propstore"
	"github.com/nervusdb/kernel/internal/readerset"
	"github.com/nervusdb/kernel/internal/segment"
	"github.com/nervusdb/kernel/internal/value"
	"github.com/nervusdb/kernel/internal/walog"
)

// Engine is the facade (spec §4.9): it owns the Pager, WAL, interners,
// PropertyStore, MemTable, and segment readers, and enforces the
// single-writer/many-reader concurrency model. Grounded on the
// teacher's lsm.LSM / hashindex.HashIndex lifecycle shape (Open/Close,
// an internal mutex serializing writers, Stats()).
type Engine struct {
	opts Options
	dir  string

	lockFile *os.File

	pager    *pager.Pager
	wal      *walog.WAL
	nodeIDs  *interner.NodeIDs
	labels   *interner.Labels
	props    *propstore.Store
	readers  *readerset.Registry
	compactor *compaction.Compactor

	wmu           sync.Mutex // serializes writers/batches
	activeMT      *memtable.MemTable
	frozenRuns    []*memtable.L0Run
	manifest      *segment.Manifest
	commitSeq     atomic.Uint64
	nodeLabels    map[common.InternedID]map[common.InternalNodeID]bool
	currentBatch  *Batch
	batchDepth    int
	closed        bool

	log     *obslog.Logger
	metrics *obsmetrics.Collectors
}

const (
	metaFile     = "P.ndb"
	walFile      = "P.wal"
	pagesDir     = "P.pages"
	lockFileName = "P.lock"
	manifestName = "manifest.json"
	labelsName   = "labels.json"
	labelIndexName = "labelindex.json"
	propsName    = "props.dat"
)

// Open opens or creates a database rooted at opts.DataDir, acquiring
// the single-writer advisory lock, replaying the WAL tail over the
// last checkpoint, and loading the segment manifest.
func Open(opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("kernel: %w: DataDir is required", common.ErrKeyEmpty)
	}
	if opts.PageSize == 0 {
		opts = DefaultOptions(opts.DataDir)
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, err
	}
	pagesPath := filepath.Join(opts.DataDir, pagesDir)
	if err := os.MkdirAll(pagesPath, 0755); err != nil {
		return nil, err
	}

	lockFile, err := acquireLock(filepath.Join(opts.DataDir, lockFileName), opts.LockRetries)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:     opts,
		dir:      opts.DataDir,
		lockFile: lockFile,
		nodeLabels: make(map[common.InternedID]map[common.InternalNodeID]bool),
		log:      obslog.New(obslog.Config{Level: opts.LogLevel}),
		metrics:  obsmetrics.New(),
	}
	for key := range opts.Experimental {
		e.log.Db().Warn().Str("key", key).Msg("ignoring unrecognized experimental option")
	}

	const pagerCacheSize = 4096
	p, err := pager.Open(filepath.Join(opts.DataDir, metaFile), pagerCacheSize)
	if err != nil {
		e.releaseLock()
		return nil, err
	}
	e.pager = p

	internerRoot, _ := p.Roots()
	var idTable *idindex.Table
	if internerRoot != 0 {
		idTable, err = idindex.Load(p, internerRoot)
		if err != nil {
			e.Close()
			return nil, err
		}
	} else {
		idTable = idindex.Empty()
	}
	e.nodeIDs = interner.LoadNodeIDs(idTable)

	e.labels, err = loadLabels(filepath.Join(opts.DataDir, labelsName))
	if err != nil {
		e.Close()
		return nil, err
	}

	if err := loadLabelIndex(filepath.Join(opts.DataDir, labelIndexName), e.nodeLabels); err != nil {
		e.Close()
		return nil, err
	}

	e.props, err = propstore.Open(filepath.Join(opts.DataDir, propsName))
	if err != nil {
		e.Close()
		return nil, err
	}

	e.manifest, err = loadManifest(filepath.Join(pagesPath, manifestName), opts)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.compactor = compaction.New(pagesPath)

	dedupeCap := opts.MaxRememberTxIds
	if !opts.EnablePersistentTxDedupe {
		dedupeCap = 0
	}
	e.wal, err = walog.Open(filepath.Join(opts.DataDir, walFile), dedupeCap)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.activeMT = memtable.New(opts.MemTableMaxSize)

	if err := e.recover(); err != nil {
		e.Close()
		return nil, err
	}

	e.readers, err = readerset.Open(filepath.Join(pagesPath, "readers"))
	if err != nil {
		e.Close()
		return nil, err
	}

	e.log.Db().Info().Str("dataDir", opts.DataDir).Msg("engine opened")
	return e, nil
}

// recover replays the WAL tail over the checkpoint-persisted state,
// reconstructing the active MemTable and interners exactly as they
// stood before the crash (spec §4.2's recovery contract).
func (e *Engine) recover() error {
	return e.wal.Recover(func(batch walog.Batch) error {
		seq := e.commitSeq.Add(1)
		for _, rec := range batch.Records {
			if err := e.applyRecord(rec, seq); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) applyRecord(rec walog.Record, seq uint64) error {
	switch rec.Type {
	case walog.RecordAssignNodeID:
		ext, internal, err := walog.DecodeAssignNodeID(rec.Payload)
		if err != nil {
			return err
		}
		e.nodeIDs.ApplyAssignment(common.ExternalID(ext), common.InternalNodeID(internal))
	case walog.RecordCreateLabel:
		id, name, err := walog.DecodeCreateLabel(rec.Payload)
		if err != nil {
			return err
		}
		e.labels.ApplyCreate(name, common.InternedID(id))
	case walog.RecordAddEdge:
		src, typ, dst, err := walog.DecodeEdge(rec.Payload)
		if err != nil {
			return err
		}
		e.activeMT.AddEdge(common.Edge{Src: common.InternalNodeID(src), Type: common.InternedID(typ), Dst: common.InternalNodeID(dst)}, seq)
	case walog.RecordDeleteEdge:
		src, typ, dst, err := walog.DecodeEdge(rec.Payload)
		if err != nil {
			return err
		}
		e.activeMT.RemoveEdge(common.Edge{Src: common.InternalNodeID(src), Type: common.InternedID(typ), Dst: common.InternalNodeID(dst)}, seq)
	case walog.RecordSetNodeProperty:
		nodeID, key, encoded, err := walog.DecodeNodeProperty(rec.Payload)
		if err != nil {
			return err
		}
		v, _, err := value.Decode(encoded)
		if err != nil {
			return err
		}
		e.activeMT.SetNodeProperty(common.InternalNodeID(nodeID), key, v, seq)
	case walog.RecordSetEdgeProperty:
		src, typ, dst, key, encoded, err := walog.DecodeEdgeProperty(rec.Payload)
		if err != nil {
			return err
		}
		v, _, err := value.Decode(encoded)
		if err != nil {
			return err
		}
		e.activeMT.SetEdgeProperty(common.Edge{Src: common.InternalNodeID(src), Type: common.InternedID(typ), Dst: common.InternalNodeID(dst)}, key, v, seq)
	case walog.RecordAssignLabel:
		nodeID, labelID, err := walog.DecodeAssignLabel(rec.Payload)
		if err != nil {
			return err
		}
		e.applyLabelAssignment(common.InternalNodeID(nodeID), common.InternedID(labelID), false, seq)
	case walog.RecordManifestSwitch:
		// The durable manifest file is already the authoritative source;
		// replay only needs to know a switch happened at this point, and
		// loadManifest already read the post-switch file from disk.
	}
	return nil
}

// applyLabelAssignment records a live or replayed label change in the
// active MemTable only. e.nodeLabels is the durable, checkpointed
// label index: it is folded in exclusively by foldLabelAssignment at
// checkpoint time, so that an open Snapshot's cloned copy never
// observes an assignment committed after the Snapshot was taken.
func (e *Engine) applyLabelAssignment(node common.InternalNodeID, label common.InternedID, removed bool, seq uint64) {
	e.activeMT.AssignLabel(node, label, removed, seq)
}

// foldLabelAssignment merges a frozen run's label assignment into the
// durable e.nodeLabels index. Called only from foldFrozenRuns, once
// per assignment in a run being discarded after compaction.
func (e *Engine) foldLabelAssignment(node common.InternalNodeID, label common.InternedID, removed bool) {
	set, ok := e.nodeLabels[label]
	if !ok {
		set = make(map[common.InternalNodeID]bool)
		e.nodeLabels[label] = set
	}
	if removed {
		delete(set, node)
	} else {
		set[node] = true
	}
}

// foldFrozenRuns folds every run's property writes into e.props and
// every run's label assignments into e.nodeLabels (oldest run first,
// and within a run oldest assignment first, so later writes correctly
// shadow earlier ones). Called by checkpointLocked/AutoCompact right
// before the runs are discarded: the compactor itself only persists
// edges into CSR segments, so this is the only place properties and
// label membership become durable.
func (e *Engine) foldFrozenRuns(runs []*memtable.L0Run) error {
	for _, r := range runs {
		for k, v := range r.Props() {
			var err error
			if k.IsEdge {
				err = e.props.SetEdgeProperty(k.Edge, k.Field, v)
			} else {
				err = e.props.SetNodeProperty(k.Node, k.Field, v)
			}
			if err != nil {
				return err
			}
		}
		for _, a := range r.Labels() {
			e.foldLabelAssignment(a.Node, a.Label, a.Removed)
		}
	}
	return nil
}

// Close flushes the WAL's dedupe sidecar, persists the label table and
// index, and releases the single-writer lock.
func (e *Engine) Close() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.wal != nil {
		record(e.wal.Close())
	}
	if e.labels != nil {
		record(saveLabels(filepath.Join(e.dir, labelsName), e.labels))
	}
	record(saveLabelIndex(filepath.Join(e.dir, labelIndexName), e.nodeLabels))
	if e.pager != nil {
		record(e.pager.Close())
	}
	e.releaseLock()
	if e.log != nil {
		e.log.Db().Info().Msg("engine closed")
	}
	return firstErr
}

// Stats returns a point-in-time snapshot of engine counters.
func (e *Engine) Stats() common.Stats {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	added, tombstoned := e.activeMT.Edges(e.commitSeq.Load())
	return common.Stats{
		NodeCount:    int64(len(e.nodeIDs.Snapshot())),
		EdgeCount:    int64(len(added) - len(tombstoned)),
		SegmentCount: len(e.manifest.Lookups),
		L0Count:      len(e.frozenRuns),
	}
}

func acquireLock(path string, retries int) (*os.File, error) {
	if retries <= 0 {
		retries = 1
	}
	backoff := 10 * time.Millisecond
	var lastErr error
	for i := 0; i < retries; i++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			info := struct {
				PID       int       `json:"pid"`
				StartedAt time.Time `json:"startedAt"`
			}{PID: os.Getpid(), StartedAt: time.Now()}
			data, _ := json.Marshal(info)
			f.Write(data)
			return f, nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("kernel: %w: %s: %v", common.ErrDatabaseLocked, path, lastErr)
}

func (e *Engine) releaseLock() {
	if e.lockFile == nil {
		return
	}
	path := e.lockFile.Name()
	e.lockFile.Close()
	os.Remove(path)
	e.lockFile = nil
}

func newTxID() string { return uuid.NewString() }
