package kernel

import (
	"fmt"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/memtable"
	"github.com/nervusdb/kernel/internal/value"
	"github.com/nervusdb/kernel/internal/walog"
)

// Batch is the engine's single writer handle (spec §4.9): all graph
// mutations go through one, and only the outermost of a nested set of
// Begin/Commit calls actually publishes and fsyncs, mirroring the
// teacher's own Tx nesting rule. Individual operations WAL-log and
// intern immediately; the accumulated edge/property/label deltas are
// applied to the live MemTable only at the outermost Commit, so an
// aborted batch never mutates read state (a fresh internal id burned
// by an aborted batch is simply never reused, per invariant 3).
type Batch struct {
	e       *Engine
	txID    string
	depth   int
	durable bool

	edgeAdds  []common.Edge
	edgeDels  []common.Edge
	nodeProps []nodePropDelta
	edgeProps []edgePropDelta
	labelOps  []labelDelta

	done bool
}

// BatchOptions configures a new batch (spec §4.9/§5.3:
// `begin_batch({txId?, durable?})`). Durable sets the batch-wide
// durability default; Commit's own CommitOptions.Durable is ANDed
// against it, so either call site can veto the fsync.
type BatchOptions struct {
	// TxID, if non-empty, is used as the batch's transaction id instead
	// of a freshly generated one.
	TxID string
	// Durable is the batch's default durability policy. See
	// CommitOptions.Durable.
	Durable bool
}

// DefaultBatchOptions returns the durable-by-default policy used by
// BeginBatch when no options are given explicitly.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Durable: true}
}

// CommitOptions configures Commit (spec §4.9/§5.3:
// `commit_batch({durable?})`). When Durable is false, the outermost
// Commit skips the WAL fsync: the batch's records are still written
// and will redo-recover after a plain process kill, but are not
// guaranteed to survive an actual power loss (spec S1).
type CommitOptions struct {
	Durable bool
}

// DefaultCommitOptions returns the durable-by-default policy used by
// Commit when no options are given explicitly.
func DefaultCommitOptions() CommitOptions {
	return CommitOptions{Durable: true}
}

type nodePropDelta struct {
	node  common.InternalNodeID
	field string
	value value.Value
}

type edgePropDelta struct {
	edge  common.Edge
	field string
	value value.Value
}

type labelDelta struct {
	node    common.InternalNodeID
	label   common.InternedID
	removed bool
}

// BeginBatch starts (or, if one is already open on this Engine, nests
// into) a write batch. The returned Batch is not safe for concurrent
// use; the engine enforces a single writer at a time via its internal
// mutex, held for the batch's entire lifetime.
func (e *Engine) BeginBatch(opts BatchOptions) (*Batch, error) {
	// A nested call (the same writer re-entering BeginBatch before its
	// outer batch committed) must not re-lock wmu: it is already held
	// for the outer batch's whole lifetime by this same call chain. Its
	// own durable flag is ignored; only the outermost batch's applies.
	if e.currentBatch != nil {
		e.batchDepth++
		return e.currentBatch, nil
	}

	e.wmu.Lock()
	if e.closed {
		e.wmu.Unlock()
		return nil, common.ErrClosed
	}

	txID := opts.TxID
	if txID == "" {
		txID = newTxID()
	}
	if _, err := e.wal.Append(walog.RecordBeginBatch, walog.EncodeTxID(txID)); err != nil {
		e.wmu.Unlock()
		return nil, err
	}

	b := &Batch{e: e, txID: txID, depth: 1, durable: opts.Durable}
	e.currentBatch = b
	e.batchDepth = 1
	return b, nil
}

func (b *Batch) checkOpen() error {
	if b.done {
		return fmt.Errorf("kernel: %w: batch already committed or aborted", common.ErrNoActiveBatch)
	}
	return nil
}

// resolveNode interns ext's internal id, WAL-logging a fresh
// assignment durably and immediately if ext has never been seen
// (spec §4.3: the assignment must precede any WAL record that
// references the internal id it produced).
func (b *Batch) resolveNode(ext common.ExternalID) (common.InternalNodeID, error) {
	id, created := b.e.nodeIDs.AssignIfAbsent(ext)
	if created {
		if _, err := b.e.wal.Append(walog.RecordAssignNodeID, walog.EncodeAssignNodeID(uint64(ext), uint32(id))); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// resolveLabel interns name (used for both node labels and relation
// types), WAL-logging a fresh CreateLabel record if name is new.
func (b *Batch) resolveLabel(name string) (common.InternedID, error) {
	id, created := b.e.labels.CreateIfAbsent(name)
	if created {
		if _, err := b.e.wal.Append(walog.RecordCreateLabel, walog.EncodeCreateLabel(uint32(id), name)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// AddEdge adds the directed, typed edge (srcExt, relType, dstExt),
// interning any previously-unseen external id or relation-type name
// along the way. Re-adding an existing triple is idempotent.
func (b *Batch) AddEdge(srcExt, dstExt common.ExternalID, relType string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	src, err := b.resolveNode(srcExt)
	if err != nil {
		return err
	}
	dst, err := b.resolveNode(dstExt)
	if err != nil {
		return err
	}
	typ, err := b.resolveLabel(relType)
	if err != nil {
		return err
	}
	if _, err := b.e.wal.Append(walog.RecordAddEdge, walog.EncodeEdge(uint32(src), uint32(typ), uint32(dst))); err != nil {
		return err
	}
	b.edgeAdds = append(b.edgeAdds, common.Edge{Src: src, Type: typ, Dst: dst})
	return nil
}

// DeleteEdge removes the directed, typed edge (srcExt, relType,
// dstExt). Deleting a non-existent triple is a no-op tombstone, same
// as re-adding an existing one.
func (b *Batch) DeleteEdge(srcExt, dstExt common.ExternalID, relType string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	src, err := b.resolveNode(srcExt)
	if err != nil {
		return err
	}
	dst, err := b.resolveNode(dstExt)
	if err != nil {
		return err
	}
	typ, err := b.resolveLabel(relType)
	if err != nil {
		return err
	}
	if _, err := b.e.wal.Append(walog.RecordDeleteEdge, walog.EncodeEdge(uint32(src), uint32(typ), uint32(dst))); err != nil {
		return err
	}
	b.edgeDels = append(b.edgeDels, common.Edge{Src: src, Type: typ, Dst: dst})
	return nil
}

// SetNodeProperty sets (or, with value.Null(), deletes) a property on
// the node identified by ext.
func (b *Batch) SetNodeProperty(ext common.ExternalID, key string, v value.Value) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	node, err := b.resolveNode(ext)
	if err != nil {
		return err
	}
	encoded, err := value.Encode(v)
	if err != nil {
		return err
	}
	if len(encoded) > maxPropertySize {
		return &common.PayloadTooLarge{Size: len(encoded), Limit: maxPropertySize}
	}
	if _, err := b.e.wal.Append(walog.RecordSetNodeProperty, walog.EncodeNodeProperty(uint32(node), key, encoded)); err != nil {
		return err
	}
	b.nodeProps = append(b.nodeProps, nodePropDelta{node: node, field: key, value: v})
	return nil
}

// SetEdgeProperty sets (or, with value.Null(), deletes) a property on
// the edge (srcExt, relType, dstExt).
func (b *Batch) SetEdgeProperty(srcExt, dstExt common.ExternalID, relType, key string, v value.Value) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	src, err := b.resolveNode(srcExt)
	if err != nil {
		return err
	}
	dst, err := b.resolveNode(dstExt)
	if err != nil {
		return err
	}
	typ, err := b.resolveLabel(relType)
	if err != nil {
		return err
	}
	encoded, err := value.Encode(v)
	if err != nil {
		return err
	}
	if len(encoded) > maxPropertySize {
		return &common.PayloadTooLarge{Size: len(encoded), Limit: maxPropertySize}
	}
	edge := common.Edge{Src: src, Type: typ, Dst: dst}
	if _, err := b.e.wal.Append(walog.RecordSetEdgeProperty, walog.EncodeEdgeProperty(uint32(src), uint32(typ), uint32(dst), key, encoded)); err != nil {
		return err
	}
	b.edgeProps = append(b.edgeProps, edgePropDelta{edge: edge, field: key, value: v})
	return nil
}

// AssignLabel attaches label to the node identified by ext.
func (b *Batch) AssignLabel(ext common.ExternalID, label string) error {
	return b.setLabel(ext, label, false)
}

// RemoveLabel detaches label from the node identified by ext.
func (b *Batch) RemoveLabel(ext common.ExternalID, label string) error {
	return b.setLabel(ext, label, true)
}

func (b *Batch) setLabel(ext common.ExternalID, label string, removed bool) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	node, err := b.resolveNode(ext)
	if err != nil {
		return err
	}
	labelID, err := b.resolveLabel(label)
	if err != nil {
		return err
	}
	if _, err := b.e.wal.Append(walog.RecordAssignLabel, walog.EncodeAssignLabel(uint32(node), uint32(labelID))); err != nil {
		return err
	}
	b.labelOps = append(b.labelOps, labelDelta{node: node, label: labelID, removed: removed})
	return nil
}

// Commit publishes the batch. A nested Commit merely decrements the
// depth counter; only the outermost Commit assigns a fresh commit
// sequence, applies the buffered deltas to the live MemTable, appends
// CommitTx and (unless either the batch or this call opted out of
// durability) fsyncs the WAL before rotating in a fresh MemTable if
// the current one has crossed its size threshold.
func (b *Batch) Commit(opts CommitOptions) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	e := b.e
	e.batchDepth--
	if e.batchDepth > 0 {
		return nil
	}
	defer e.wmu.Unlock()
	b.done = true
	e.currentBatch = nil

	if _, err := e.wal.Append(walog.RecordCommitTx, walog.EncodeTxID(b.txID)); err != nil {
		return err
	}
	if b.durable && opts.Durable {
		if err := e.wal.Sync(); err != nil {
			return err
		}
	}

	seq := e.commitSeq.Add(1)
	for _, edge := range b.edgeAdds {
		e.activeMT.AddEdge(edge, seq)
	}
	for _, edge := range b.edgeDels {
		e.activeMT.RemoveEdge(edge, seq)
	}
	for _, d := range b.nodeProps {
		e.activeMT.SetNodeProperty(d.node, d.field, d.value, seq)
	}
	for _, d := range b.edgeProps {
		e.activeMT.SetEdgeProperty(d.edge, d.field, d.value, seq)
	}
	for _, d := range b.labelOps {
		e.applyLabelAssignment(d.node, d.label, d.removed, seq)
	}

	if e.activeMT.IsFull() {
		e.frozenRuns = append(e.frozenRuns, e.activeMT.Freeze(seq))
		e.activeMT = memtable.New(e.opts.MemTableMaxSize)
	}

	e.metrics.CommitCount.Inc()
	e.log.Db().Debug().Str("txId", b.txID).Uint64("seq", seq).Msg("batch committed")
	return nil
}

// Abort discards the batch's buffered deltas without ever applying
// them to the MemTable. The pre-commit WAL records already appended
// for this batch are left in place, uncommitted and inert: Recover
// only replays a batch whose terminating CommitTx is present, so they
// are silently skipped on the next recovery and reclaimed at the next
// checkpoint's WAL truncation, the same way a crash mid-batch is
// handled.
func (b *Batch) Abort() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	e := b.e
	e.batchDepth--
	if e.batchDepth > 0 {
		return nil
	}
	defer e.wmu.Unlock()
	b.done = true
	e.currentBatch = nil
	e.log.Db().Debug().Str("txId", b.txID).Msg("batch aborted")
	return nil
}

const maxPropertySize = 1 << 20 // spec §4.4: property values are capped to bound WAL record size
