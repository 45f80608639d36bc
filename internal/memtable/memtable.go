// Package memtable implements the mutable write buffer (spec §4.5, C5)
// and its frozen, read-only form, an L0 run (spec §4.6, C6). The shape
// follows the teacher's lsm/memtable.go: a sorted slice under a single
// RWMutex rather than a skip list, since graph batches are modest and a
// sorted-slice binary search keeps the code simple to audit. Entries
// carry a commit sequence number exactly as the teacher's
// MemTableEntry.Sequence does; a Snapshot pins the sequence counter at
// creation time and every read method here takes a maxSeq ceiling, so
// concurrent commits landing in the same live MemTable never become
// visible to a Snapshot taken before they happened (spec §5: "writes
// within a batch are atomic: readers never see a partial batch").
package memtable

import (
	"sort"
	"sync"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/value"
)

// PropKey identifies a property delta target: either a node or an edge.
type PropKey struct {
	IsEdge bool
	Node   common.InternalNodeID
	Edge   common.Edge
	Field  string
}

// LabelAssignment records a node gaining or losing a label at a given
// commit sequence.
type LabelAssignment struct {
	Node    common.InternalNodeID
	Label   common.InternedID
	Removed bool
	Seq     uint64
}

type edgeEntry struct {
	seq       uint64
	tombstone bool
}

type propEntry struct {
	value value.Value
	seq   uint64
}

// MemTable is the active, mutable buffer for one writer epoch.
type MemTable struct {
	mu sync.RWMutex

	entries map[common.Edge]edgeEntry
	props   map[PropKey]propEntry
	labels  []LabelAssignment

	approxSize int
	maxSize    int
}

// New creates an empty memtable that freezes once approxSize reaches
// maxSize (spec §4.5's size-threshold freeze trigger; checkpoint is the
// other trigger and is driven by the engine, not this type).
func New(maxSize int) *MemTable {
	return &MemTable{
		entries: make(map[common.Edge]edgeEntry),
		props:   make(map[PropKey]propEntry),
		maxSize: maxSize,
	}
}

// AddEdge records an edge add at commit sequence seq. Adding after a
// tombstone wins if its seq is newer (spec invariant: last write at
// the highest seq wins).
func (m *MemTable) AddEdge(e common.Edge, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e]; !ok || seq >= cur.seq {
		m.entries[e] = edgeEntry{seq: seq, tombstone: false}
	}
	m.approxSize += 20
}

// RemoveEdge records an edge tombstone at commit sequence seq.
func (m *MemTable) RemoveEdge(e common.Edge, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e]; !ok || seq >= cur.seq {
		m.entries[e] = edgeEntry{seq: seq, tombstone: true}
	}
	m.approxSize += 20
}

// SetNodeProperty records a property delta for a node at seq. A
// value.Null() records a deletion tombstone for that field.
func (m *MemTable) SetNodeProperty(node common.InternalNodeID, field string, v value.Value, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := PropKey{Node: node, Field: field}
	if cur, ok := m.props[k]; !ok || seq >= cur.seq {
		m.props[k] = propEntry{value: v, seq: seq}
	}
	m.approxSize += len(field) + 24
}

// SetEdgeProperty records a property delta for an edge at seq.
func (m *MemTable) SetEdgeProperty(e common.Edge, field string, v value.Value, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := PropKey{IsEdge: true, Edge: e, Field: field}
	if cur, ok := m.props[k]; !ok || seq >= cur.seq {
		m.props[k] = propEntry{value: v, seq: seq}
	}
	m.approxSize += len(field) + 24
}

// AssignLabel records a label gain or loss for a node at seq.
func (m *MemTable) AssignLabel(node common.InternalNodeID, label common.InternedID, removed bool, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels = append(m.labels, LabelAssignment{Node: node, Label: label, Removed: removed, Seq: seq})
	m.approxSize += 9
}

// HasEdge reports whether e is visible as of maxSeq, distinguishing
// "added", "tombstoned", and "not mentioned at or before maxSeq".
func (m *MemTable) HasEdge(e common.Edge, maxSeq uint64) (added, tombstoned bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[e]
	if !ok || entry.seq > maxSeq {
		return false, false
	}
	return !entry.tombstone, entry.tombstone
}

// NodeProperty returns the most recent delta for (node, field) visible
// as of maxSeq, if any.
func (m *MemTable) NodeProperty(node common.InternalNodeID, field string, maxSeq uint64) (value.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.props[PropKey{Node: node, Field: field}]
	if !ok || e.seq > maxSeq {
		return value.Value{}, false
	}
	return e.value, true
}

// EdgeProperty returns the most recent delta for (edge, field) visible
// as of maxSeq, if any.
func (m *MemTable) EdgeProperty(e common.Edge, field string, maxSeq uint64) (value.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := PropKey{IsEdge: true, Edge: e, Field: field}
	entry, ok := m.props[k]
	if !ok || entry.seq > maxSeq {
		return value.Value{}, false
	}
	return entry.value, true
}

// Labels returns label assignments visible as of maxSeq, oldest first.
func (m *MemTable) Labels(maxSeq uint64) []LabelAssignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LabelAssignment, 0, len(m.labels))
	for _, a := range m.labels {
		if a.Seq <= maxSeq {
			out = append(out, a)
		}
	}
	return out
}

// Edges returns every edge (added or tombstoned) visible as of maxSeq,
// for iteration paths that need a full scan (e.g. nodes(), PageRank).
func (m *MemTable) Edges(maxSeq uint64) (added, tombstoned []common.Edge) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for e, entry := range m.entries {
		if entry.seq > maxSeq {
			continue
		}
		if entry.tombstone {
			tombstoned = append(tombstoned, e)
		} else {
			added = append(added, e)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Less(added[j]) })
	sort.Slice(tombstoned, func(i, j int) bool { return tombstoned[i].Less(tombstoned[j]) })
	return added, tombstoned
}

// ApproxSize reports the memtable's estimated byte footprint.
func (m *MemTable) ApproxSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.approxSize
}

// IsFull reports whether the memtable has reached its freeze threshold.
func (m *MemTable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSize > 0 && m.approxSize >= m.maxSize
}

// Freeze produces an immutable L0Run snapshot of every entry with
// seq <= maxSeq, used when the engine rotates in a fresh active
// MemTable at a checkpoint or size threshold. Entries with a higher
// seq (committed concurrently with the freeze decision, which cannot
// happen under the single-writer model but is guarded against anyway)
// are left for the next run.
func (m *MemTable) Freeze(maxSeq uint64) *L0Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var edges, tombstones []common.Edge
	for e, entry := range m.entries {
		if entry.seq > maxSeq {
			continue
		}
		if entry.tombstone {
			tombstones = append(tombstones, e)
		} else {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Less(edges[j]) })
	sort.Slice(tombstones, func(i, j int) bool { return tombstones[i].Less(tombstones[j]) })

	props := make(map[PropKey]value.Value)
	for k, entry := range m.props {
		if entry.seq <= maxSeq {
			props[k] = entry.value
		}
	}

	var labels []LabelAssignment
	for _, a := range m.labels {
		if a.Seq <= maxSeq {
			labels = append(labels, a)
		}
	}

	return &L0Run{edges: edges, tombstones: tombstones, props: props, labels: labels}
}

// L0Run is a frozen, read-only MemTable (spec §4.6). Multiple runs can
// accumulate before the compactor folds them into CSR segments; reads
// scan runs newest-first so a later run's tombstone shadows an earlier
// run's add.
type L0Run struct {
	edges      []common.Edge // sorted SPO
	tombstones []common.Edge // sorted SPO
	props      map[PropKey]value.Value
	labels     []LabelAssignment
}

// Edges returns the run's added-edge set in SPO order.
func (r *L0Run) Edges() []common.Edge { return r.edges }

// Tombstones returns the run's removed-edge set in SPO order.
func (r *L0Run) Tombstones() []common.Edge { return r.tombstones }

// HasEdge mirrors MemTable.HasEdge for a frozen run.
func (r *L0Run) HasEdge(e common.Edge) (added, tombstoned bool) {
	i := sort.Search(len(r.edges), func(i int) bool { return !r.edges[i].Less(e) })
	added = i < len(r.edges) && r.edges[i] == e
	j := sort.Search(len(r.tombstones), func(i int) bool { return !r.tombstones[i].Less(e) })
	tombstoned = j < len(r.tombstones) && r.tombstones[j] == e
	return
}

// NodeProperty mirrors MemTable.NodeProperty for a frozen run.
func (r *L0Run) NodeProperty(node common.InternalNodeID, field string) (value.Value, bool) {
	v, ok := r.props[PropKey{Node: node, Field: field}]
	return v, ok
}

// EdgeProperty mirrors MemTable.EdgeProperty for a frozen run.
func (r *L0Run) EdgeProperty(e common.Edge, field string) (value.Value, bool) {
	v, ok := r.props[PropKey{IsEdge: true, Edge: e, Field: field}]
	return v, ok
}

// Labels returns the label assignments recorded in this run, oldest
// first (application order matters: a later removal can cancel an
// earlier assignment within the same run).
func (r *L0Run) Labels() []LabelAssignment { return r.labels }

// Props returns the run's node/edge property overlay, keyed the same
// way MemTable.props is. Used by the engine to fold a run's properties
// into the durable PropertyStore before the run is discarded.
func (r *L0Run) Props() map[PropKey]value.Value { return r.props }

// Len reports the number of distinct edge entries (adds + tombstones)
// in the run, used by the compactor's scoring heuristic.
func (r *L0Run) Len() int { return len(r.edges) + len(r.tombstones) }
