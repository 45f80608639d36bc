// Package interner implements the three bidirectional maps of spec
// §4.3: external<->internal node id, and the single shared label/
// relation-type interner. Keeping labels and relation types in one
// map is a MUST (spec §9 "dual interner bug"): the teacher's own
// history had two separate interners used inconsistently across code
// paths, producing silent wrong answers in the cross-ordering indices.
// This package only ever exposes one interner type for both.
package interner

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/idindex"
	"github.com/nervusdb/kernel/internal/pager"
)

// NodeIDs is the external<->internal node id mapping. Internal ids are
// dense and assigned by an atomic counter; they are never reused
// (spec invariant 3) even after a node's edges are all tombstoned.
type NodeIDs struct {
	mu      sync.RWMutex
	forward map[common.ExternalID]common.InternalNodeID
	reverse []common.ExternalID // indexed by InternalNodeID-1; index 0 unused
	next    atomic.Uint32
}

// NewNodeIDs creates an empty mapping (fresh database).
func NewNodeIDs() *NodeIDs {
	return &NodeIDs{
		forward: make(map[common.ExternalID]common.InternalNodeID),
		reverse: make([]common.ExternalID, 1), // reverse[0] unused sentinel
	}
}

// LoadNodeIDs rebuilds a NodeIDs from a persisted idindex.Table
// (on-open path: read the checkpoint snapshot before replaying the
// WAL tail, spec §4.3).
func LoadNodeIDs(table *idindex.Table) *NodeIDs {
	n := NewNodeIDs()
	var maxInternal common.InternalNodeID
	for _, e := range table.All() {
		n.forward[e.External] = e.Internal
		for int(e.Internal) >= len(n.reverse) {
			n.reverse = append(n.reverse, 0)
		}
		n.reverse[e.Internal] = e.External
		if e.Internal > maxInternal {
			maxInternal = e.Internal
		}
	}
	n.next.Store(uint32(maxInternal))
	return n
}

// Resolve returns the internal id for an external id, if assigned.
func (n *NodeIDs) Resolve(ext common.ExternalID) (common.InternalNodeID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	id, ok := n.forward[ext]
	return id, ok
}

// ResolveInternal returns the external id for an internal id.
func (n *NodeIDs) ResolveInternal(id common.InternalNodeID) (common.ExternalID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if int(id) >= len(n.reverse) {
		return 0, false
	}
	if id == 0 {
		return 0, false
	}
	return n.reverse[id], true
}

// AssignIfAbsent returns the existing internal id for ext, or assigns
// a fresh one. The second return reports whether a new assignment was
// made (callers must WAL-log a fresh assignment before committing).
func (n *NodeIDs) AssignIfAbsent(ext common.ExternalID) (common.InternalNodeID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id, ok := n.forward[ext]; ok {
		return id, false
	}
	id := common.InternalNodeID(n.next.Add(1))
	n.forward[ext] = id
	for int(id) >= len(n.reverse) {
		n.reverse = append(n.reverse, 0)
	}
	n.reverse[id] = ext
	return id, true
}

// ApplyAssignment installs an assignment learned from WAL replay
// (where the internal id was already decided at append time).
func (n *NodeIDs) ApplyAssignment(ext common.ExternalID, id common.InternalNodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forward[ext] = id
	for int(id) >= len(n.reverse) {
		n.reverse = append(n.reverse, 0)
	}
	n.reverse[id] = ext
	if uint32(id) > n.next.Load() {
		n.next.Store(uint32(id))
	}
}

// Snapshot returns a sorted copy of the current mapping for
// idindex.Rebuild at checkpoint time.
func (n *NodeIDs) Snapshot() []idindex.Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	entries := make([]idindex.Entry, 0, len(n.forward))
	for ext, id := range n.forward {
		entries = append(entries, idindex.Entry{External: ext, Internal: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].External < entries[j].External })
	return entries
}

// RebuildTable persists the current mapping as a fresh idindex
// snapshot, to be called at checkpoint.
func (n *NodeIDs) RebuildTable(p *pager.Pager) (*idindex.Table, error) {
	return idindex.Rebuild(p, n.Snapshot())
}

// Clone returns an independent copy of the mapping as it stands right
// now, for a Snapshot to pin: ids assigned in the source NodeIDs after
// the clone is taken never appear in it (spec §4.8 snapshot isolation).
func (n *NodeIDs) Clone() *NodeIDs {
	n.mu.RLock()
	defer n.mu.RUnlock()
	forward := make(map[common.ExternalID]common.InternalNodeID, len(n.forward))
	for k, v := range n.forward {
		forward[k] = v
	}
	reverse := make([]common.ExternalID, len(n.reverse))
	copy(reverse, n.reverse)
	clone := &NodeIDs{forward: forward, reverse: reverse}
	clone.next.Store(n.next.Load())
	return clone
}
